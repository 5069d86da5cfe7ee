// Package types holds the wire- and storage-level data model of the consensus
// core: blocks, quorum certificates, timeout certificates, votes and the
// execution-result commitments that get stapled onto a QC once a round
// reaches post-consensus agreement.
package types

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// GenesisRound and GenesisEpoch identify the bootstrap block that every block
// tree and block store starts from.
const (
	GenesisRound uint64 = 0
	GenesisEpoch uint64 = 0
)

// NodeID identifies a validator. It is the string form of the validator's
// network identity (see network.Network).
type NodeID = string

type (
	// RoundInfo is the "vote data" half of a quorum certificate: the round
	// being certified plus a commitment to the state produced by it.
	RoundInfo struct {
		_                 struct{} `cbor:",toarray"`
		Version           uint32
		RoundNumber       uint64
		Epoch             uint64
		Timestamp         uint64
		ParentRoundNumber uint64
		CurrentRootHash   []byte // execution state commitment (execStateID)
	}

	// LedgerCommitInfo is produced once a round has reached post-consensus
	// agreement: the execution layer's state root for the block that the QC
	// would commit, signed by the same quorum that signed the QC.
	LedgerCommitInfo struct {
		_            struct{} `cbor:",toarray"`
		Version      uint32
		CommitRound  uint64 // round number of the block actually committed, 0 if this QC does not commit anything
		Epoch        uint64
		Timestamp    uint64
		Hash         []byte // state root hash being committed, nil if non-committing
		PreviousHash []byte // hash of the RoundInfo this seals
	}

	// QuorumCert is formed once 2f+1 validators (by voting power) sign the
	// same (VoteInfo, LedgerCommitInfo) pair.
	QuorumCert struct {
		_                struct{} `cbor:",toarray"`
		VoteInfo         *RoundInfo
		LedgerCommitInfo *LedgerCommitInfo
		Signatures       map[NodeID][]byte
	}

	// Timeout is what a validator signs when a round makes no progress.
	Timeout struct {
		_      struct{} `cbor:",toarray"`
		Epoch  uint64
		Round  uint64
		HighQc *QuorumCert
	}

	// TimeoutCert aggregates 2f+1 timeout signatures for a round, each
	// carrying the signer's own highest-known QC round so the next leader
	// can safely extend the single highest one.
	TimeoutCert struct {
		_          struct{} `cbor:",toarray"`
		Timeout    *Timeout
		Signatures map[NodeID]TimeoutSignature
	}

	TimeoutSignature struct {
		_         struct{} `cbor:",toarray"`
		HqcRound  uint64
		Signature []byte
	}

	// Transaction is an opaque, execution-layer-defined unit of work. The
	// consensus core never interprets its contents.
	Transaction struct {
		_      struct{} `cbor:",toarray"`
		Raw    []byte
		Sender NodeID // hint only, used for back-pressure accounting
	}

	// ProofOfAvailability certifies that 2f+1 validators have persisted a
	// batch, so a leader can reference it by digest instead of embedding it.
	ProofOfAvailability struct {
		_               struct{} `cbor:",toarray"`
		BatchDigest     []byte
		Author          NodeID
		ExpirationRound uint64
		Signatures      map[NodeID][]byte
	}

	// Payload is either a direct set of transactions or a set of PoAvs.
	// consensus.Manager always proposes the PoAv form, filled from the
	// Quorum Store (empty when it has none).
	Payload struct {
		_            struct{} `cbor:",toarray"`
		Proofs       []*ProofOfAvailability
		Transactions []*Transaction
		// ValidatorSet, when non-nil, marks this block as an epoch-change
		// block. Neither BlockTree.Commit nor consensus.Manager reads it:
		// committing such a block does not rotate the validator set or
		// start a new epoch.
		ValidatorSet []*ValidatorInfo
	}

	// BlockData is the proposed block itself.
	BlockData struct {
		_         struct{} `cbor:",toarray"`
		Version   uint32
		Author    NodeID
		Round     uint64
		Epoch     uint64
		Timestamp uint64
		Payload   *Payload
		Qc        *QuorumCert // parent block's quorum certificate; nil only for genesis
	}

	// ValidatorInfo describes one member of the validator set.
	ValidatorInfo struct {
		_           struct{} `cbor:",toarray"`
		NodeID      NodeID
		VotingPower uint64
		PubKey      []byte
	}
)

var (
	ErrBlockIsNil = errors.New("block is nil")
	ErrQcIsNil    = errors.New("quorum certificate is nil")
)

func (b *BlockData) GetRound() uint64 {
	if b == nil {
		return 0
	}
	return b.Round
}

func (b *BlockData) GetEpoch() uint64 {
	if b == nil {
		return 0
	}
	return b.Epoch
}

// GetParentRound returns the round of the block this one extends, i.e. the
// round certified by b.Qc. Zero for the genesis block (Qc == nil).
func (b *BlockData) GetParentRound() uint64 {
	if b == nil || b.Qc == nil {
		return 0
	}
	return b.Qc.GetRound()
}

// IsNil reports whether this is a NIL block: a placeholder that advances the
// round/timestamp without carrying a payload (used to paper over a skipped
// round after a timeout).
func (b *BlockData) IsNil() bool {
	return b != nil && b.Payload == nil
}

// Hash returns the collision-resistant digest identifying this block. Two
// blocks with the same hash are, by construction, the same block.
func (b *BlockData) Hash(hashAlgo crypto.Hash) ([]byte, error) {
	if b == nil {
		return nil, ErrBlockIsNil
	}
	buf, err := cbor.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encoding block for hashing: %w", err)
	}
	h := hashAlgo.New()
	h.Write(buf)
	return h.Sum(nil), nil
}

func (q *QuorumCert) GetRound() uint64 {
	if q == nil || q.VoteInfo == nil {
		return 0
	}
	return q.VoteInfo.RoundNumber
}

func (q *QuorumCert) GetParentRound() uint64 {
	if q == nil || q.VoteInfo == nil {
		return 0
	}
	return q.VoteInfo.ParentRoundNumber
}

// IsCommitQc reports whether this QC, once formed, certifies a commit (i.e.
// LedgerCommitInfo.CommitRound names a block below the proposed one, per
// the 2-chain rule).
func (q *QuorumCert) IsCommitQc() bool {
	return q != nil && q.LedgerCommitInfo != nil && q.LedgerCommitInfo.CommitRound != 0
}

func (ri *RoundInfo) Hash(hashAlgo crypto.Hash) ([]byte, error) {
	if ri == nil {
		return nil, errors.New("round info is nil")
	}
	buf, err := cbor.Marshal(ri)
	if err != nil {
		return nil, fmt.Errorf("encoding round info for hashing: %w", err)
	}
	h := hashAlgo.New()
	h.Write(buf)
	return h.Sum(nil), nil
}

// Hash returns the digest that gets signed to seal a commit (a vote's
// LedgerCommitSig is over it).
func (ci *LedgerCommitInfo) Hash(hashAlgo crypto.Hash) ([]byte, error) {
	if ci == nil {
		return nil, errors.New("ledger commit info is nil")
	}
	buf, err := cbor.Marshal(ci)
	if err != nil {
		return nil, fmt.Errorf("encoding ledger commit info for hashing: %w", err)
	}
	h := hashAlgo.New()
	h.Write(buf)
	return h.Sum(nil), nil
}

func (t *Timeout) GetRound() uint64 {
	if t == nil {
		return 0
	}
	return t.Round
}

func (t *Timeout) GetHqcRound() uint64 {
	if t == nil || t.HighQc == nil {
		return 0
	}
	return t.HighQc.GetRound()
}

func (tc *TimeoutCert) GetRound() uint64 {
	if tc == nil || tc.Timeout == nil {
		return 0
	}
	return tc.Timeout.Round
}

// HighestQc returns the HighQc of the certificate's Timeout, the timeout
// message that completed the certificate. The per-signer HqcRound values in
// Signatures are not consulted, so a signer may report a higher round.
func (tc *TimeoutCert) HighestQc() *QuorumCert {
	if tc == nil || tc.Timeout == nil {
		return nil
	}
	return tc.Timeout.HighQc
}

// EqualIDs reports whether two block hashes refer to the same block.
func EqualIDs(a, b []byte) bool { return bytes.Equal(a, b) }
