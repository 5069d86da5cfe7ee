package safety

import (
	"testing"

	"github.com/stretchr/testify/require"

	ccrypto "github.com/Galxe/gravity-sdk/consensus/crypto"
	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
)

func newTestModule(t *testing.T) (*Module, *InMemoryStorage) {
	t.Helper()
	signer, err := ccrypto.NewInMemorySigner()
	require.NoError(t, err)
	storage := NewInMemoryStorage()
	m, err := New("node-1", signer, storage)
	require.NoError(t, err)
	return m, storage
}

func qcAt(round uint64) *ctypes.QuorumCert {
	return &ctypes.QuorumCert{VoteInfo: &ctypes.RoundInfo{RoundNumber: round}}
}

func TestSafetyModule_isSafeToVote(t *testing.T) {
	m, storage := newTestModule(t)
	storage.highestVotedRound = 3

	t.Run("block is nil", func(t *testing.T) {
		err := m.isSafeToVote(nil, nil)
		require.EqualError(t, err, "block is nil")
	})

	t.Run("qc is nil", func(t *testing.T) {
		err := m.isSafeToVote(&ctypes.BlockData{Round: 4}, nil)
		require.EqualError(t, err, "block round 4 does not extend from block qc round 0")
	})

	t.Run("ok, extends qc", func(t *testing.T) {
		err := m.isSafeToVote(&ctypes.BlockData{Round: 4, Qc: qcAt(3)}, nil)
		require.NoError(t, err)
	})

	t.Run("already voted", func(t *testing.T) {
		err := m.isSafeToVote(&ctypes.BlockData{Round: 3, Qc: qcAt(3)}, nil)
		require.EqualError(t, err, "already voted for round 3, last voted round 3")
	})

	t.Run("round does not follow qc round", func(t *testing.T) {
		err := m.isSafeToVote(&ctypes.BlockData{Round: 5, Qc: qcAt(3)}, nil)
		require.EqualError(t, err, "block round 5 does not extend from block qc round 3")
	})

	t.Run("safe to extend from tc", func(t *testing.T) {
		tc := &ctypes.TimeoutCert{Timeout: &ctypes.Timeout{Round: 4, HighQc: qcAt(3)}}
		err := m.isSafeToVote(&ctypes.BlockData{Round: 5, Qc: qcAt(3)}, tc)
		require.NoError(t, err)
	})

	t.Run("not safe, tc round mismatch", func(t *testing.T) {
		tc := &ctypes.TimeoutCert{Timeout: &ctypes.Timeout{Round: 3, HighQc: qcAt(3)}}
		err := m.isSafeToVote(&ctypes.BlockData{Round: 5, Qc: qcAt(3)}, tc)
		require.EqualError(t, err, "block round 5 does not extend timeout certificate round 3")
	})

	t.Run("not safe, qc behind tc hqc", func(t *testing.T) {
		tc := &ctypes.TimeoutCert{Timeout: &ctypes.Timeout{Round: 4, HighQc: qcAt(4)}}
		err := m.isSafeToVote(&ctypes.BlockData{Round: 5, Qc: qcAt(3)}, tc)
		require.EqualError(t, err, "block qc round 3 is smaller than timeout certificate highest qc round 4")
	})

	t.Run("invalid tc with nil timeout", func(t *testing.T) {
		tc := &ctypes.TimeoutCert{}
		err := m.isSafeToVote(&ctypes.BlockData{Round: 4, Qc: qcAt(1)}, tc)
		require.EqualError(t, err, "block round 4 does not extend timeout certificate round 0")
	})
}

func TestSafetyModule_constructCommitInfo(t *testing.T) {
	m, _ := newTestModule(t)

	t.Run("to be committed", func(t *testing.T) {
		block := &ctypes.BlockData{Round: 3, Qc: &ctypes.QuorumCert{VoteInfo: &ctypes.RoundInfo{
			RoundNumber: 2, ParentRoundNumber: 1, CurrentRootHash: []byte{0, 1, 2, 3},
		}}}
		ci := m.constructCommitInfo(block, []byte{2, 2, 2, 2})
		require.Equal(t, uint64(2), ci.CommitRound)
		require.Equal(t, []byte{0, 1, 2, 3}, ci.Hash)
		require.Equal(t, []byte{2, 2, 2, 2}, ci.PreviousHash)
	})

	t.Run("not to be committed, parent is genesis", func(t *testing.T) {
		block := &ctypes.BlockData{Round: 3, Qc: &ctypes.QuorumCert{VoteInfo: &ctypes.RoundInfo{
			RoundNumber: 1, ParentRoundNumber: 0, CurrentRootHash: []byte{0, 1, 2, 3},
		}}}
		ci := m.constructCommitInfo(block, []byte{2, 2, 2, 2})
		require.Zero(t, ci.CommitRound)
		require.Nil(t, ci.Hash)
		require.Equal(t, []byte{2, 2, 2, 2}, ci.PreviousHash)
	})
}

func TestSafetyModule_isCommitCandidate(t *testing.T) {
	m, _ := newTestModule(t)

	t.Run("is candidate", func(t *testing.T) {
		block := &ctypes.BlockData{Round: 3, Qc: &ctypes.QuorumCert{VoteInfo: &ctypes.RoundInfo{
			RoundNumber: 2, CurrentRootHash: []byte{0, 1, 2, 3},
		}}}
		require.Equal(t, []byte{0, 1, 2, 3}, m.isCommitCandidate(block))
	})

	t.Run("not candidate, round does not follow qc round", func(t *testing.T) {
		block := &ctypes.BlockData{Round: 3, Qc: qcAt(1)}
		require.Nil(t, m.isCommitCandidate(block))
	})

	t.Run("not candidate, qc nil", func(t *testing.T) {
		block := &ctypes.BlockData{Round: 3}
		require.Nil(t, m.isCommitCandidate(block))
	})
}

func TestSafetyModule_MakeVote(t *testing.T) {
	m, storage := newTestModule(t)

	t.Run("missing qc", func(t *testing.T) {
		_, err := m.MakeVote(&ctypes.BlockData{Round: 1}, []byte{1}, nil, nil)
		require.EqualError(t, err, "block is missing quorum certificate")
	})

	t.Run("ok", func(t *testing.T) {
		block := &ctypes.BlockData{Round: 1, Qc: qcAt(0)}
		vote, err := m.MakeVote(block, []byte{9, 9}, nil, nil)
		require.NoError(t, err)
		require.Equal(t, ctypes.NodeID("node-1"), vote.Author)
		require.Equal(t, uint64(1), vote.GetRound())
		require.Equal(t, uint64(0), storage.GetHighestQcRound())
		require.Equal(t, uint64(1), storage.GetHighestVotedRound())
	})

	t.Run("rejects double vote", func(t *testing.T) {
		block := &ctypes.BlockData{Round: 1, Qc: qcAt(0)}
		_, err := m.MakeVote(block, []byte{9, 9}, nil, nil)
		require.ErrorContains(t, err, "already voted for round 1")
	})
}

func TestSafetyModule_isSafeToTimeout(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		m, storage := newTestModule(t)
		storage.highestVotedRound, storage.highestQcRound = 2, 1
		tc := &ctypes.TimeoutCert{Timeout: &ctypes.Timeout{Round: 2, HighQc: qcAt(1)}}
		require.NoError(t, m.isSafeToTimeout(2, 1, tc))
	})

	t.Run("ok, already voted for round can timeout same round", func(t *testing.T) {
		m, storage := newTestModule(t)
		storage.highestVotedRound, storage.highestQcRound = 2, 1
		require.NoError(t, m.isSafeToTimeout(2, 1, nil))
	})

	t.Run("qc round smaller than seen", func(t *testing.T) {
		m, storage := newTestModule(t)
		storage.highestVotedRound, storage.highestQcRound = 2, 2
		err := m.isSafeToTimeout(2, 1, nil)
		require.EqualError(t, err, "qc round 1 is smaller than highest qc round 2 seen")
	})

	t.Run("already signed vote for round", func(t *testing.T) {
		m, storage := newTestModule(t)
		storage.highestVotedRound, storage.highestQcRound = 3, 1
		err := m.isSafeToTimeout(2, 1, nil)
		require.EqualError(t, err, "timeout round 2 is in the past, already signed vote for round 3")
	})

	t.Run("timeout round in the past relative to its own hqc", func(t *testing.T) {
		m, storage := newTestModule(t)
		storage.highestVotedRound, storage.highestQcRound = 2, 1
		err := m.isSafeToTimeout(2, 2, nil)
		require.EqualError(t, err, "timeout round 2 is in the past, timeout msg high qc is for round 2")
	})

	t.Run("round does not follow qc round or tc", func(t *testing.T) {
		m, storage := newTestModule(t)
		storage.highestVotedRound, storage.highestQcRound = 2, 2
		err := m.isSafeToTimeout(4, 2, nil)
		require.EqualError(t, err, "round 4 does not follow last qc round 2 or tc round 0")
	})

	t.Run("round does not follow tc", func(t *testing.T) {
		m, storage := newTestModule(t)
		storage.highestVotedRound, storage.highestQcRound = 2, 2
		tc := &ctypes.TimeoutCert{Timeout: &ctypes.Timeout{Round: 3, HighQc: qcAt(2)}}
		err := m.isSafeToTimeout(5, 2, tc)
		require.EqualError(t, err, "round 5 does not follow last qc round 2 or tc round 3")
	})
}

func TestSafetyModule_SignProposal(t *testing.T) {
	m, _ := newTestModule(t)

	t.Run("block is nil", func(t *testing.T) {
		err := m.SignProposal(nil, nil)
		require.EqualError(t, err, "block is nil")
	})

	t.Run("wrong author", func(t *testing.T) {
		err := m.SignProposal(&ctypes.BlockData{Author: "someone-else", Round: 4, Qc: qcAt(3)}, nil)
		require.EqualError(t, err, "block authored by someone-else, this node is node-1")
	})

	t.Run("refuses to re-propose genesis", func(t *testing.T) {
		err := m.SignProposal(&ctypes.BlockData{Author: "node-1", Round: ctypes.GenesisRound}, nil)
		require.EqualError(t, err, "cannot propose a new genesis block")
	})

	t.Run("missing parent qc", func(t *testing.T) {
		err := m.SignProposal(&ctypes.BlockData{Author: "node-1", Round: 4}, nil)
		require.EqualError(t, err, "block is missing parent quorum certificate")
	})

	t.Run("ok, extends qc", func(t *testing.T) {
		err := m.SignProposal(&ctypes.BlockData{Author: "node-1", Round: 4, Qc: qcAt(3)}, nil)
		require.NoError(t, err)
	})

	t.Run("round does not extend qc round", func(t *testing.T) {
		err := m.SignProposal(&ctypes.BlockData{Author: "node-1", Round: 5, Qc: qcAt(3)}, nil)
		require.EqualError(t, err, "block round 5 does not extend parent qc round 3")
	})

	t.Run("ok, extends tc", func(t *testing.T) {
		tc := &ctypes.TimeoutCert{Timeout: &ctypes.Timeout{Round: 4, HighQc: qcAt(3)}}
		err := m.SignProposal(&ctypes.BlockData{Author: "node-1", Round: 5, Qc: qcAt(3)}, tc)
		require.NoError(t, err)
	})

	t.Run("tc round mismatch", func(t *testing.T) {
		tc := &ctypes.TimeoutCert{Timeout: &ctypes.Timeout{Round: 3, HighQc: qcAt(3)}}
		err := m.SignProposal(&ctypes.BlockData{Author: "node-1", Round: 5, Qc: qcAt(3)}, tc)
		require.EqualError(t, err, "block round 5 does not extend timeout certificate round 3")
	})

	t.Run("qc behind tc hqc", func(t *testing.T) {
		tc := &ctypes.TimeoutCert{Timeout: &ctypes.Timeout{Round: 4, HighQc: qcAt(4)}}
		err := m.SignProposal(&ctypes.BlockData{Author: "node-1", Round: 5, Qc: qcAt(3)}, tc)
		require.EqualError(t, err, "block qc round 3 is smaller than timeout certificate highest qc round 4")
	})
}
