package gcei

import (
	"context"
	"crypto"
	"crypto/sha256"
	"fmt"
	"sync"

	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
)

var hashAlgo = crypto.SHA256

// InProcess is an ExecutionLayer that runs in the same process as the
// consensus core, computing a deterministic state hash as
// sha256(parentRoot || blockHash) without interpreting transactions. It
// exists for single-process test networks and local development, mirroring
// the teacher's pattern of a trivial in-memory Orchestration/verifier used
// throughout its test suite.
type InProcess struct {
	mu        sync.Mutex
	roots     map[string][]byte // blockID (hex-free raw bytes as string) -> state root
	executed  uint64
	finalized uint64
}

func NewInProcess() *InProcess {
	return &InProcess{roots: make(map[string][]byte)}
}

func (e *InProcess) SendPendingTxns(_ context.Context, _ []*ctypes.Transaction) error { return nil }

func (e *InProcess) RecvOrderedBlock(_ context.Context, block *ctypes.BlockData) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := block.Hash(hashAlgo)
	if err != nil {
		return Wrap(KindInvalid, fmt.Errorf("hashing block: %w", err))
	}
	parentRoot := e.roots[fmt.Sprintf("parent:%d", block.GetParentRound())]
	h := sha256.Sum256(append(append([]byte{}, parentRoot...), id...))
	e.roots[string(id)] = h[:]
	e.roots[fmt.Sprintf("parent:%d", block.Round)] = h[:]
	e.executed++
	return nil
}

func (e *InProcess) SendExecutedBlockHash(_ context.Context, blockID []byte) (*ComputeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	root, ok := e.roots[string(blockID)]
	if !ok {
		return nil, Wrap(KindUnavailable, fmt.Errorf("block %x not yet executed", blockID))
	}
	return &ComputeResult{BlockID: blockID, StateRootHash: root}, nil
}

func (e *InProcess) CommitBlockInfo(_ context.Context, result *ctypes.ExecutionResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if result.BlockNumber > e.finalized {
		e.finalized = result.BlockNumber
	}
	return nil
}

func (e *InProcess) LatestBlockNumber(_ context.Context) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executed, nil
}

func (e *InProcess) FinalizedBlockNumber(_ context.Context) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finalized, nil
}

func (e *InProcess) RecoverOrderedBlock(ctx context.Context, block *ctypes.BlockData) error {
	return e.RecvOrderedBlock(ctx, block)
}

func (e *InProcess) RegisterExecutionArgs(_ context.Context, _ uint64, _ []*ctypes.ValidatorInfo) error {
	return nil
}
