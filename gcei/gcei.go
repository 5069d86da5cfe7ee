// Package gcei implements the Gravity Consensus-Execution Interface (spec
// §9): the adapter boundary between the consensus core and an external,
// polymorphic execution layer. The consensus core never interprets
// transactions or state; it only orders payloads, dispatches them through
// this interface, and waits for attestations.
//
// Grounded on the teacher's IRChangeVerifier/Orchestration split
// (rootchain/consensus/ir_req_buffer.go, block_store.go's Orchestration
// interface): the consensus core depends on a small, synchronous-looking
// interface while the real implementation does arbitrarily expensive,
// possibly-remote work behind it.
package gcei

import (
	"context"
	"errors"
	"fmt"

	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
)

// Kind classifies a GCEI failure so callers can apply spec §9's
// differentiated retry/backoff/fatal semantics instead of treating every
// error identically.
type Kind int

const (
	// KindUnavailable means the execution layer could not be reached or is
	// still catching up; retry with backoff.
	KindUnavailable Kind = iota
	// KindMismatch means the execution layer disagrees with consensus about
	// a state commitment that should have been settled; this is a
	// byzantine-or-bug signal and must not be silently retried.
	KindMismatch
	// KindInvalid means the payload itself was rejected (e.g. malformed
	// transaction); the block that carried it cannot be salvaged as-is.
	KindInvalid
	// KindTimeout means the call exceeded its deadline; retry is safe but
	// should back off, since the execution layer may just be slow.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindMismatch:
		return "mismatch"
	case KindInvalid:
		return "invalid"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error wraps a GCEI failure with its Kind so callers can type-switch on
// retryability without string-matching.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("gcei: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a caller should retry (with backoff) rather
// than treat this as fatal. Unavailable and Timeout are retryable; Mismatch
// and Invalid are not.
func Retryable(err error) bool {
	var gErr *Error
	if !errors.As(err, &gErr) {
		return false
	}
	return gErr.Kind == KindUnavailable || gErr.Kind == KindTimeout
}

func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// ComputeResult is what the execution layer returns once it has ordered and
// hashed a block's payload but before it has durably committed anything.
type ComputeResult struct {
	BlockID       []byte
	StateRootHash []byte
	TxnCount      uint64
}

// ExecutionLayer is the full GCEI surface the Pipeline Coordinator and
// Recovery packages drive. Every method may block; callers are expected to
// run them from a dedicated task (spec §3's cooperative task model) rather
// than the single-threaded RSM loop.
type ExecutionLayer interface {
	// SendPendingTxns hands the execution layer a batch of transactions
	// before they've been ordered, so it can start speculative work (e.g.
	// mempool warm-up). Best-effort: failures here are never fatal.
	SendPendingTxns(ctx context.Context, txns []*ctypes.Transaction) error

	// RecvOrderedBlock delivers a block's final, ordered payload once
	// consensus has QCed it. The execution layer must execute it
	// deterministically and durably record having started.
	RecvOrderedBlock(ctx context.Context, block *ctypes.BlockData) error

	// SendExecutedBlockHash asks the execution layer to compute (or
	// recompute) the ComputeResult for blockID, used both on the hot path
	// and during recovery re-validation.
	SendExecutedBlockHash(ctx context.Context, blockID []byte) (*ComputeResult, error)

	// CommitBlockInfo informs the execution layer that consensus has
	// durably committed block (2-chain rule satisfied); the execution
	// layer may now drop any ability to roll it back.
	CommitBlockInfo(ctx context.Context, result *ctypes.ExecutionResult) error

	// LatestBlockNumber is the highest block number the execution layer has
	// executed (whether or not consensus has committed it yet).
	LatestBlockNumber(ctx context.Context) (uint64, error)

	// FinalizedBlockNumber is the highest block number the execution layer
	// has durably committed.
	FinalizedBlockNumber(ctx context.Context) (uint64, error)

	// RecoverOrderedBlock re-delivers a previously ordered block after a
	// restart, for execution layers that lost in-flight state.
	RecoverOrderedBlock(ctx context.Context, block *ctypes.BlockData) error

	// RegisterExecutionArgs hands the execution layer whatever
	// out-of-band configuration (genesis state, validator set) it needs
	// before the first RecvOrderedBlock call of a fresh epoch.
	RegisterExecutionArgs(ctx context.Context, epoch uint64, validators []*ctypes.ValidatorInfo) error
}
