package quorumstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	ccrypto "github.com/Galxe/gravity-sdk/consensus/crypto"
	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
	"github.com/Galxe/gravity-sdk/network/protocol/rbft"
	qstore "github.com/Galxe/gravity-sdk/quorumstore"
)

func newSignerVerifier(t *testing.T) (ccrypto.Signer, ccrypto.Verifier) {
	t.Helper()
	s, err := ccrypto.NewInMemorySigner()
	require.NoError(t, err)
	v, err := s.Verifier()
	require.NoError(t, err)
	return s, v
}

func TestBatchMsg_SignAndVerify(t *testing.T) {
	signer, verifier := newSignerVerifier(t)
	trustBase := rbft.NewStaticTrustBase(map[ctypes.NodeID]ccrypto.Verifier{"author-1": verifier})

	bm := &BatchMsg{Batch: &qstore.Batch{Digest: []byte{1, 2, 3}}, Author: "author-1"}
	require.NoError(t, bm.Sign(signer))
	require.NoError(t, bm.Verify(trustBase))

	bm.Batch.Digest[0] ^= 0xff
	require.ErrorContains(t, bm.Verify(trustBase), "signature verification failed")
}

func TestBatchMsg_IsValid(t *testing.T) {
	require.ErrorIs(t, (*BatchMsg)(nil).IsValid(), ErrBatchMsgIsNil)
	require.ErrorContains(t, (&BatchMsg{Author: "a"}).IsValid(), "missing batch")
	require.ErrorContains(t, (&BatchMsg{Batch: &qstore.Batch{}}).IsValid(), "missing author")
	require.NoError(t, (&BatchMsg{Batch: &qstore.Batch{}, Author: "a"}).IsValid())
}

func TestBatchAckMsg_SignAndVerify(t *testing.T) {
	signer, verifier := newSignerVerifier(t)
	trustBase := rbft.NewStaticTrustBase(map[ctypes.NodeID]ccrypto.Verifier{"v1": verifier})

	ack := &BatchAckMsg{Digest: []byte{1, 2, 3}, Signer: "v1"}
	require.NoError(t, ack.Sign(signer))
	require.NoError(t, ack.Verify(trustBase))

	ack.Digest[0] ^= 0xff
	require.ErrorContains(t, ack.Verify(trustBase), "signature verification failed")
}

func TestBatchAckMsg_IsValid(t *testing.T) {
	require.ErrorIs(t, (*BatchAckMsg)(nil).IsValid(), ErrBatchAckMsgIsNil)
	require.ErrorContains(t, (&BatchAckMsg{Signer: "v1"}).IsValid(), "missing digest")
	require.ErrorContains(t, (&BatchAckMsg{Digest: []byte{1}}).IsValid(), "missing signer")
	require.NoError(t, (&BatchAckMsg{Digest: []byte{1}, Signer: "v1"}).IsValid())
}

func TestVerifyProofOfStore(t *testing.T) {
	s1, v1 := newSignerVerifier(t)
	s2, v2 := newSignerVerifier(t)
	trustBase := rbft.NewStaticTrustBase(map[ctypes.NodeID]ccrypto.Verifier{"v1": v1, "v2": v2})

	digest := []byte{9, 9, 9}
	sig1, err := s1.SignBytes(digest)
	require.NoError(t, err)
	sig2, err := s2.SignBytes(digest)
	require.NoError(t, err)

	proof := &ctypes.ProofOfAvailability{
		BatchDigest: digest,
		Signatures:  map[ctypes.NodeID][]byte{"v1": sig1, "v2": sig2},
	}
	require.NoError(t, VerifyProofOfStore(proof, trustBase))

	proof.Signatures["v1"] = []byte{0, 0, 0}
	require.ErrorContains(t, VerifyProofOfStore(proof, trustBase), "signature verification failed")
}

func TestProofOfStoreMsg_IsValid(t *testing.T) {
	require.ErrorIs(t, (*ProofOfStoreMsg)(nil).IsValid(), ErrProofMsgIsNil)
	require.ErrorContains(t, (&ProofOfStoreMsg{}).IsValid(), "missing proof")
	require.ErrorContains(t, (&ProofOfStoreMsg{Proof: &ctypes.ProofOfAvailability{}}).IsValid(), "no signatures")

	proof := &ctypes.ProofOfAvailability{Signatures: map[ctypes.NodeID][]byte{"v1": {1}}}
	require.NoError(t, (&ProofOfStoreMsg{Proof: proof}).IsValid())
}
