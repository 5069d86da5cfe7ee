// Package safety implements Safety Rules (spec §4.2): the stateful oracle
// that produces votes, proposals and timeout signatures while enforcing BFT
// safety across restarts. Grounded on the teacher's
// rootchain/consensus/safety_module.go (observed indirectly through
// safety_module_test.go, which this implementation is built to satisfy
// unchanged).
package safety

import (
	"crypto"
	"errors"
	"fmt"

	ccrypto "github.com/Galxe/gravity-sdk/consensus/crypto"
	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
)

// Storage is the durable, atomic persistent state of Safety Rules (spec
// §4.2 Persistent state). Every setter must hit stable storage before the
// corresponding signature is returned to the caller (crash-consistent
// signing, spec §4.7 Atomicity requirement).
type Storage interface {
	GetHighestVotedRound() uint64
	SetHighestVotedRound(round uint64) error
	GetHighestQcRound() uint64
	// SetHighestQcRound persists both the new highest QC round and the
	// round just voted for, atomically, since a successful vote always
	// advances both together.
	SetHighestQcRound(qcRound, votedRound uint64) error
}

// Signable is anything Safety Rules can be asked to produce a raw signature
// for after structural validation (a ProposalMsg, a TimeoutMsg, ...).
type Signable interface {
	Bytes() ([]byte, error)
}

type Module struct {
	peerID   ctypes.NodeID
	signer   ccrypto.Signer
	verifier ccrypto.Verifier
	storage  Storage
	hashAlgo crypto.Hash
}

var (
	ErrSignerIsNil  = errors.New("signer is nil")
	ErrStorageIsNil = errors.New("storage is nil")
)

// New constructs Safety Rules for peerID, persisting its monotonic state in
// storage. Mirrors the teacher's NewSafetyModule(networkID, id, signer, db).
func New(peerID ctypes.NodeID, signer ccrypto.Signer, storage Storage) (*Module, error) {
	if signer == nil {
		return nil, ErrSignerIsNil
	}
	if storage == nil {
		return nil, ErrStorageIsNil
	}
	verifier, err := signer.Verifier()
	if err != nil {
		return nil, fmt.Errorf("deriving verifier: %w", err)
	}
	return &Module{
		peerID:   peerID,
		signer:   signer,
		verifier: verifier,
		storage:  storage,
		hashAlgo: crypto.SHA256,
	}, nil
}

// isConsecutive reports whether round directly follows currentRound, i.e.
// round == currentRound+1.
func isConsecutive(round, currentRound uint64) bool {
	return round == currentRound+1
}

// isSafeToVote enforces spec §4.2's no-double-vote and prefer-round rules.
// Without a timeout certificate the proposed block must directly extend its
// embedded parent QC (no gaps). With one, it must directly extend the
// timeout round, and its QC must be at least as high as the TC's highest
// known QC (never regress behind what the network has already seen).
func (m *Module) isSafeToVote(block *ctypes.BlockData, lastRoundTC *ctypes.TimeoutCert) error {
	if block == nil {
		return errors.New("block is nil")
	}
	qcRound := block.Qc.GetRound()

	if block.Round <= m.storage.GetHighestVotedRound() {
		return fmt.Errorf("already voted for round %d, last voted round %d", block.Round, m.storage.GetHighestVotedRound())
	}

	if lastRoundTC == nil {
		if !isConsecutive(block.Round, qcRound) {
			return fmt.Errorf("block round %d does not extend from block qc round %d", block.Round, qcRound)
		}
		return nil
	}

	tcRound := lastRoundTC.GetRound()
	if !isConsecutive(block.Round, tcRound) {
		return fmt.Errorf("block round %d does not extend timeout certificate round %d", block.Round, tcRound)
	}
	hqcRound := lastRoundTC.HighestQc().GetRound()
	if qcRound < hqcRound {
		return fmt.Errorf("block qc round %d is smaller than timeout certificate highest qc round %d", qcRound, hqcRound)
	}
	return nil
}

// isCommitCandidate reports whether block's embedded parent QC directly
// extends the round it itself certifies, returning the state commitment of
// the would-be commit. It restates the same contiguity check isSafeToVote
// performs on the non-TC path, exposed for callers that want to reason
// about commit-candidacy independent of casting a vote (e.g. diagnostics).
func (m *Module) isCommitCandidate(block *ctypes.BlockData) []byte {
	if block == nil || block.Qc == nil || block.Qc.VoteInfo == nil {
		return nil
	}
	if block.Round != block.Qc.VoteInfo.RoundNumber+1 {
		return nil
	}
	return block.Qc.VoteInfo.CurrentRootHash
}

// constructCommitInfo builds the LedgerCommitInfo to staple onto the vote
// being cast for block. It only carries a commit (non-zero CommitRound) when
// block's embedded QC (certifying A = block.parent) is itself contiguous
// with A's own parent G — the 2-chain condition — and G is not the genesis
// block (genesis is trivially already committed, spec §4.1's "NB! exception,
// no commit for genesis round").
func (m *Module) constructCommitInfo(block *ctypes.BlockData, voteInfoHash []byte) *ctypes.LedgerCommitInfo {
	ci := &ctypes.LedgerCommitInfo{Version: 1, PreviousHash: voteInfoHash}
	qc := block.Qc
	if qc == nil || qc.VoteInfo == nil {
		return ci
	}
	vi := qc.VoteInfo
	if vi.ParentRoundNumber != 0 && vi.RoundNumber == vi.ParentRoundNumber+1 {
		ci.CommitRound = vi.RoundNumber
		ci.Hash = vi.CurrentRootHash
		ci.Epoch = block.Epoch
		ci.Timestamp = block.Timestamp
	}
	return ci
}

// MakeVote is the Safety Rules entry point for "construct_and_sign_vote"
// (spec §4.2). rootHash is the state commitment the caller computed for
// block (its own CurrentRootHash once cast into a vote).
func (m *Module) MakeVote(block *ctypes.BlockData, rootHash []byte, highQc *ctypes.QuorumCert, lastRoundTC *ctypes.TimeoutCert) (*ctypes.Vote, error) {
	if block == nil {
		return nil, errors.New("block is nil")
	}
	if block.Qc == nil {
		return nil, errors.New("block is missing quorum certificate")
	}
	if err := m.isSafeToVote(block, lastRoundTC); err != nil {
		return nil, fmt.Errorf("not safe to vote: %w", err)
	}

	voteInfo := &ctypes.RoundInfo{
		Version:           1,
		RoundNumber:       block.Round,
		Epoch:             block.Epoch,
		Timestamp:         block.Timestamp,
		ParentRoundNumber: block.Qc.GetRound(),
		CurrentRootHash:   rootHash,
	}
	voteInfoHash, err := voteInfo.Hash(m.hashAlgo)
	if err != nil {
		return nil, fmt.Errorf("hashing vote info: %w", err)
	}
	commitInfo := m.constructCommitInfo(block, voteInfoHash)

	commitInfoHash, err := commitInfo.Hash(m.hashAlgo)
	if err != nil {
		return nil, fmt.Errorf("hashing commit info: %w", err)
	}
	sig, err := m.signer.SignBytes(commitInfoHash)
	if err != nil {
		return nil, fmt.Errorf("signing vote: %w", err)
	}

	if err := m.storage.SetHighestQcRound(block.Qc.GetRound(), block.Round); err != nil {
		return nil, fmt.Errorf("persisting safety state: %w", err)
	}

	return &ctypes.Vote{
		Author:           m.peerID,
		VoteInfo:         voteInfo,
		LedgerCommitInfo: commitInfo,
		LedgerCommitSig:  sig,
		HighQc:           highQc,
	}, nil
}

// SignTimeout produces a TimeoutSignature for round, carrying the caller's
// current highest known QC round so the next leader can safely extend the
// single highest QC across the whole quorum (spec §4.3 Timeout/TC).
func (m *Module) SignTimeout(timeout *ctypes.Timeout, lastRoundTC *ctypes.TimeoutCert) (*ctypes.TimeoutSignature, error) {
	if timeout == nil {
		return nil, errors.New("timeout is nil")
	}
	hqcRound := timeout.GetHqcRound()
	if err := m.isSafeToTimeout(timeout.Round, hqcRound, lastRoundTC); err != nil {
		return nil, fmt.Errorf("not safe to timeout: %w", err)
	}

	buf, err := timeoutSignBytes(timeout, m.hashAlgo)
	if err != nil {
		return nil, fmt.Errorf("encoding timeout for signing: %w", err)
	}
	sig, err := m.signer.SignBytes(buf)
	if err != nil {
		return nil, fmt.Errorf("signing timeout: %w", err)
	}

	if err := m.storage.SetHighestVotedRound(timeout.Round); err != nil {
		return nil, fmt.Errorf("persisting safety state: %w", err)
	}

	return &ctypes.TimeoutSignature{HqcRound: hqcRound, Signature: sig}, nil
}

// isSafeToTimeout enforces spec §4.3's timeout-safety rules: never regress
// behind a QC round already seen, never timeout a round already voted past,
// never timeout a round that has already been superseded by its own QC, and
// only ever timeout the round directly following the highest QC or TC known.
func (m *Module) isSafeToTimeout(round, hqcRound uint64, lastRoundTC *ctypes.TimeoutCert) error {
	storedQcRound := m.storage.GetHighestQcRound()
	if hqcRound < storedQcRound {
		return fmt.Errorf("qc round %d is smaller than highest qc round %d seen", hqcRound, storedQcRound)
	}
	storedVotedRound := m.storage.GetHighestVotedRound()
	if round < storedVotedRound {
		return fmt.Errorf("timeout round %d is in the past, already signed vote for round %d", round, storedVotedRound)
	}
	if hqcRound >= round {
		return fmt.Errorf("timeout round %d is in the past, timeout msg high qc is for round %d", round, hqcRound)
	}
	tcRound := lastRoundTC.GetRound()
	if round != storedQcRound+1 && round != tcRound+1 {
		return fmt.Errorf("round %d does not follow last qc round %d or tc round %d", round, storedQcRound, tcRound)
	}
	return nil
}

func timeoutSignBytes(t *ctypes.Timeout, hashAlgo crypto.Hash) ([]byte, error) {
	ri := &ctypes.RoundInfo{RoundNumber: t.Round, Epoch: t.Epoch, ParentRoundNumber: t.GetHqcRound()}
	return ri.Hash(hashAlgo)
}

// SignProposal is Safety Rules' "sign_proposal" entry point (spec §4.2):
// asserts block is authored by this node, and that it directly extends a
// valid parent (its own embedded QC, or that QC as extended by a timeout
// certificate for the round in between). It enforces the same
// parent-contiguity rule isSafeToVote applies on the voter side, since a
// leader must never propose something it couldn't itself safely vote for.
func (m *Module) SignProposal(block *ctypes.BlockData, lastRoundTC *ctypes.TimeoutCert) error {
	if block == nil {
		return errors.New("block is nil")
	}
	if block.Author != m.peerID {
		return fmt.Errorf("block authored by %s, this node is %s", block.Author, m.peerID)
	}
	if block.Round == ctypes.GenesisRound {
		return errors.New("cannot propose a new genesis block")
	}
	if block.Qc == nil {
		return errors.New("block is missing parent quorum certificate")
	}
	qcRound := block.Qc.GetRound()
	if lastRoundTC == nil {
		if !isConsecutive(block.Round, qcRound) {
			return fmt.Errorf("block round %d does not extend parent qc round %d", block.Round, qcRound)
		}
		return nil
	}
	tcRound := lastRoundTC.GetRound()
	if !isConsecutive(block.Round, tcRound) {
		return fmt.Errorf("block round %d does not extend timeout certificate round %d", block.Round, tcRound)
	}
	if hqcRound := lastRoundTC.HighestQc().GetRound(); qcRound < hqcRound {
		return fmt.Errorf("block qc round %d is smaller than timeout certificate highest qc round %d", qcRound, hqcRound)
	}
	return nil
}
