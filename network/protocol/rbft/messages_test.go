package rbft

import (
	"testing"

	"github.com/stretchr/testify/require"

	ccrypto "github.com/Galxe/gravity-sdk/consensus/crypto"
	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
)

func newSignerVerifier(t *testing.T) (ccrypto.Signer, ccrypto.Verifier) {
	t.Helper()
	s, err := ccrypto.NewInMemorySigner()
	require.NoError(t, err)
	v, err := s.Verifier()
	require.NoError(t, err)
	return s, v
}

func dummyRoundInfo(round uint64) *ctypes.RoundInfo {
	return &ctypes.RoundInfo{RoundNumber: round, ParentRoundNumber: round - 1}
}

func TestTimeoutMsg_Bytes(t *testing.T) {
	tmo := &TimeoutMsg{
		Timeout: &ctypes.Timeout{
			Round: 10,
			Epoch: 0,
			HighQc: &ctypes.QuorumCert{
				VoteInfo: &ctypes.RoundInfo{RoundNumber: 9, ParentRoundNumber: 8},
			},
		},
		Author: "test",
	}
	got := tmo.Bytes()
	require.Len(t, got, 24+len("test"))
}

func TestTimeoutMsg_IsValid(t *testing.T) {
	tests := []struct {
		name    string
		msg     *TimeoutMsg
		wantErr bool
	}{
		{
			name:    "timeout info is nil",
			msg:     &TimeoutMsg{Author: "test"},
			wantErr: true,
		},
		{
			name: "missing high qc",
			msg: &TimeoutMsg{
				Timeout: &ctypes.Timeout{Round: 10},
				Author:  "test",
			},
			wantErr: true,
		},
		{
			name: "no author",
			msg: &TimeoutMsg{
				Timeout: &ctypes.Timeout{Round: 10, HighQc: &ctypes.QuorumCert{VoteInfo: dummyRoundInfo(9)}},
			},
			wantErr: true,
		},
		{
			name: "no lastTC when hqc does not immediately precede",
			msg: &TimeoutMsg{
				Timeout: &ctypes.Timeout{Round: 10, HighQc: &ctypes.QuorumCert{VoteInfo: dummyRoundInfo(7)}},
				Author:  "test",
			},
			wantErr: true,
		},
		{
			name: "valid",
			msg: &TimeoutMsg{
				Timeout: &ctypes.Timeout{Round: 10, HighQc: &ctypes.QuorumCert{VoteInfo: dummyRoundInfo(9)}},
				Author:  "test",
			},
			wantErr: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.IsValid()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestTimeoutMsg_Sign(t *testing.T) {
	s1, _ := newSignerVerifier(t)
	x := &TimeoutMsg{
		Timeout: &ctypes.Timeout{Round: 10, HighQc: &ctypes.QuorumCert{VoteInfo: dummyRoundInfo(9)}},
	}
	require.ErrorContains(t, x.Sign(s1), "timeout validation failed, timeout message is missing author")
	require.Nil(t, x.Signature)

	x.Author = "test"
	require.NoError(t, x.Sign(s1))
	require.NotNil(t, x.Signature)
}

func TestTimeoutMsg_VerifyUnknownAuthor(t *testing.T) {
	s1, v1 := newSignerVerifier(t)
	trustBase := NewStaticTrustBase(map[ctypes.NodeID]ccrypto.Verifier{"1": v1})

	tmo := NewTimeoutMsg(&ctypes.Timeout{Round: 10, HighQc: &ctypes.QuorumCert{VoteInfo: dummyRoundInfo(9)}}, "12", nil)
	require.NoError(t, tmo.Sign(s1))
	require.ErrorContains(t, tmo.Verify(trustBase), "author '12' is not part of the trust base")
}

func TestTimeoutMsg_VerifyOk(t *testing.T) {
	s1, v1 := newSignerVerifier(t)
	trustBase := NewStaticTrustBase(map[ctypes.NodeID]ccrypto.Verifier{"1": v1})

	tmo := NewTimeoutMsg(&ctypes.Timeout{Round: 10, HighQc: &ctypes.QuorumCert{VoteInfo: dummyRoundInfo(9)}}, "1", nil)
	require.NoError(t, tmo.Sign(s1))
	require.NoError(t, tmo.Verify(trustBase))

	tmo.Timeout.Epoch = 99
	require.ErrorContains(t, tmo.Verify(trustBase), "signature verification failed")
}

func TestProposalMsg_IsValid(t *testing.T) {
	p := &ProposalMsg{Block: &ctypes.BlockData{Round: 5, Qc: &ctypes.QuorumCert{VoteInfo: dummyRoundInfo(4)}}}
	require.NoError(t, p.IsValid())

	p.Block.Qc = nil
	require.Error(t, p.IsValid())
}

func TestVoteMsg_IsValid(t *testing.T) {
	v := &VoteMsg{Vote: &ctypes.Vote{Author: "v1", VoteInfo: dummyRoundInfo(4)}}
	require.NoError(t, v.IsValid())

	v.Vote.Author = ""
	require.Error(t, v.IsValid())
}
