// Package quorumstore implements the Quorum Store batch/PoAv pipeline (spec
// §4.4): transactions are formed into batches, disseminated, and once 2f+1
// validators acknowledge receipt the batch's Proof of Availability can be
// referenced from a proposal instead of embedding the transactions
// themselves.
//
// The buffer/dedup/drain-on-proposal shape is grounded directly on the
// teacher's rootchain/consensus/ir_req_buffer.go (IrReqBuffer): both
// structures accumulate validated units of work keyed by an identity,
// reject equivocating resubmissions, and drain into a Payload exactly once
// per round.
package quorumstore

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
)

// Batch is a validator-authored unit of dissemination: a set of transactions
// identified by their content digest.
type Batch struct {
	Digest       []byte
	Author       ctypes.NodeID
	Txns         []*ctypes.Transaction
	ExpirationRound uint64
}

func (b *Batch) hash(hashAlgo crypto.Hash) ([]byte, error) {
	h := hashAlgo.New()
	for _, t := range b.Txns {
		h.Write(t.Raw)
	}
	return h.Sum(nil), nil
}

// Quotas holds the back-pressure knobs of spec §4.4. AddBatch rejects an
// incoming batch once BacklogPerValidatorBatchLimit or BacklogTxnLimitCount
// would be exceeded; DynamicMaxTxnPerSecond is not enforced anywhere.
type Quotas struct {
	DynamicMaxTxnPerSecond          uint64
	BacklogTxnLimitCount            uint64
	BacklogPerValidatorBatchLimit   uint64
}

var (
	ErrBatchEquivocation = errors.New("equivocating batch digest for author")
	ErrQuotaExceeded     = errors.New("backlog quota exceeded")
)

type pendingBatch struct {
	batch     *Batch
	receipts  map[ctypes.NodeID][]byte
	available bool
}

// Store buffers batches from dissemination through PoAv formation to
// proposal-time drain, applying the back-pressure quotas of spec §4.4.
type Store struct {
	mu      sync.Mutex
	hash    crypto.Hash
	quotas  Quotas
	vs      *ctypes.ValidatorSet
	log     *slog.Logger
	batches map[string]*pendingBatch // digest -> batch
	byAuthor map[ctypes.NodeID]int   // author -> count of undisseminated/unexpired batches, for the per-validator backlog limit
}

func New(hashAlgo crypto.Hash, quotas Quotas, vs *ctypes.ValidatorSet, log *slog.Logger) *Store {
	return &Store{
		hash:     hashAlgo,
		quotas:   quotas,
		vs:       vs,
		log:      log,
		batches:  make(map[string]*pendingBatch),
		byAuthor: make(map[ctypes.NodeID]int),
	}
}

// AddBatch accepts a freshly disseminated batch, rejecting it if it would
// push its author's backlog past the per-validator quota or if its digest
// is already buffered under a different author (equivocation).
func (s *Store) AddBatch(batch *Batch) error {
	if batch == nil {
		return errors.New("batch is nil")
	}
	digest, err := batch.hash(s.hash)
	if err != nil {
		return fmt.Errorf("hashing batch: %w", err)
	}
	if len(batch.Digest) == 0 {
		batch.Digest = digest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(batch.Digest)
	existing, found := s.batches[key]
	if found && existing.batch.Author != batch.Author {
		return ErrBatchEquivocation
	}
	if !bytes.Equal(batch.Digest, digest) {
		return fmt.Errorf("batch digest does not match its contents")
	}
	if found {
		return nil // duplicate delivery, already buffered
	}

	if s.quotas.BacklogPerValidatorBatchLimit > 0 && uint64(s.byAuthor[batch.Author]) >= s.quotas.BacklogPerValidatorBatchLimit {
		return fmt.Errorf("%w: author %s already has %d pending batches", ErrQuotaExceeded, batch.Author, s.byAuthor[batch.Author])
	}
	if s.quotas.BacklogTxnLimitCount > 0 {
		var total uint64
		for _, b := range s.batches {
			total += uint64(len(b.batch.Txns))
		}
		if total+uint64(len(batch.Txns)) > s.quotas.BacklogTxnLimitCount {
			return fmt.Errorf("%w: backlog would reach %d transactions", ErrQuotaExceeded, total+uint64(len(batch.Txns)))
		}
	}

	s.batches[key] = &pendingBatch{batch: batch, receipts: make(map[ctypes.NodeID][]byte)}
	s.byAuthor[batch.Author]++
	return nil
}

// AddReceipt records that signer has acknowledged storing digest, forming a
// PoAv once 2f+1 receipts (by voting power) have accumulated.
func (s *Store) AddReceipt(digest []byte, signer ctypes.NodeID, sig []byte) (*ctypes.ProofOfAvailability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pb, found := s.batches[string(digest)]
	if !found {
		return nil, fmt.Errorf("receipt for unknown batch digest %x", digest)
	}
	pb.receipts[signer] = sig
	if pb.available {
		return nil, nil // already formed
	}
	if !s.vs.HasQuorum(pb.receipts) {
		return nil, nil
	}
	pb.available = true
	return &ctypes.ProofOfAvailability{
		BatchDigest:     pb.batch.Digest,
		Author:          pb.batch.Author,
		ExpirationRound: pb.batch.ExpirationRound,
		Signatures:      copySigs(pb.receipts),
	}, nil
}

func copySigs(m map[ctypes.NodeID][]byte) map[ctypes.NodeID][]byte {
	out := make(map[ctypes.NodeID][]byte, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AddProofOfAvailability registers a proof formed and announced by another
// validator (spec §4.4's ProofOfStoreMsg broadcast), so this node can
// reference the batch from a proposal it leads even though it never
// received or stored the batch body itself.
func (s *Store) AddProofOfAvailability(proof *ctypes.ProofOfAvailability) error {
	if proof == nil {
		return errors.New("proof of availability is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(proof.BatchDigest)
	if existing, found := s.batches[key]; found {
		if existing.available {
			return nil // already formed, e.g. this node also reached quorum on its own receipts
		}
		existing.available = true
		existing.receipts = copySigs(proof.Signatures)
		return nil
	}
	s.batches[key] = &pendingBatch{
		batch: &Batch{
			Digest:          proof.BatchDigest,
			Author:          proof.Author,
			ExpirationRound: proof.ExpirationRound,
		},
		receipts:  copySigs(proof.Signatures),
		available: true,
	}
	s.byAuthor[proof.Author]++
	return nil
}

// DrainForProposal removes and returns every available PoAv not yet expired
// as of currentRound, for use as a proposal's payload (spec §4.4). Batches
// that never reached availability and have expired are dropped silently,
// mirroring the teacher's IrReqBuffer.GeneratePayload clearing its buffer
// once a payload has been formed.
func (s *Store) DrainForProposal(currentRound uint64) []*ctypes.ProofOfAvailability {
	s.mu.Lock()
	defer s.mu.Unlock()

	var proofs []*ctypes.ProofOfAvailability
	for key, pb := range s.batches {
		if pb.batch.ExpirationRound != 0 && currentRound > pb.batch.ExpirationRound {
			delete(s.batches, key)
			s.byAuthor[pb.batch.Author]--
			continue
		}
		if !pb.available {
			continue
		}
		proofs = append(proofs, &ctypes.ProofOfAvailability{
			BatchDigest:     pb.batch.Digest,
			Author:          pb.batch.Author,
			ExpirationRound: pb.batch.ExpirationRound,
			Signatures:      copySigs(pb.receipts),
		})
		delete(s.batches, key)
		s.byAuthor[pb.batch.Author]--
	}
	return proofs
}

// Backlog reports the number of batches currently buffered, for back-
// pressure decisions by the proposal-construction path.
func (s *Store) Backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}
