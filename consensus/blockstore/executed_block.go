package blockstore

import (
	"crypto"
	"fmt"

	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
)

// ExecutedBlock is a Block plus the derived state the Block Store tracks for
// it: the QC that (eventually) certifies it, the commit QC that (eventually)
// finalizes it, and the execution-state commitment the leader computed when
// extending its parent (spec §3 "BlockTree").
type ExecutedBlock struct {
	BlockData *ctypes.BlockData
	HashAlgo  crypto.Hash
	RootHash  []byte              // execution state commitment after this block (execStateID)
	Qc        *ctypes.QuorumCert  // QC certifying this block (formed by the next round's votes)
	CommitQc  *ctypes.QuorumCert  // QC that committed this block, set only once it becomes root
}

func (x *ExecutedBlock) GetRound() uint64 {
	if x == nil {
		return 0
	}
	return x.BlockData.GetRound()
}

func (x *ExecutedBlock) GetParentRound() uint64 {
	if x == nil {
		return 0
	}
	return x.BlockData.GetParentRound()
}

func (x *ExecutedBlock) GetEpoch() uint64 {
	if x == nil {
		return 0
	}
	return x.BlockData.GetEpoch()
}

func (x *ExecutedBlock) ID() ([]byte, error) {
	return x.BlockData.Hash(x.HashAlgo)
}

// StateCommitter computes the state root a block produces by extending its
// parent's state with the block's own payload. It is the consensus-side view
// of the GCEI execution dispatch: the real state computation happens in the
// execution layer; the committer here only has to agree on an opaque
// commitment (the same one the leader put in BlockData / the one the
// pipeline's ExecutionResult eventually confirms).
type StateCommitter interface {
	// CommitState returns the state commitment for extending parent with
	// the new block's payload. For blocks using the Quorum Store payload
	// (PoAv references) this doesn't execute anything; it is a placeholder
	// commitment until the Pipeline Coordinator's Execute stage produces the
	// real ExecutionResult and the 2-chain rule certifies it.
	CommitState(parentRoot []byte, block *ctypes.BlockData) ([]byte, error)
}

// Extend produces the ExecutedBlock for newBlock, a child of x.
func (x *ExecutedBlock) Extend(newBlock *ctypes.BlockData, committer StateCommitter) (*ExecutedBlock, error) {
	if newBlock.GetParentRound() != x.GetRound() {
		return nil, fmt.Errorf("block round %d does not extend parent round %d", newBlock.Round, x.GetRound())
	}
	root, err := committer.CommitState(x.RootHash, newBlock)
	if err != nil {
		return nil, fmt.Errorf("computing state commitment for round %d: %w", newBlock.Round, err)
	}
	return &ExecutedBlock{
		BlockData: newBlock,
		HashAlgo:  x.HashAlgo,
		RootHash:  root,
	}, nil
}
