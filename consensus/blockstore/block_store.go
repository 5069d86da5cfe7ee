// Package blockstore implements the Block Store and Block Tree (spec §3 and
// §4.1): the append-only, crash-recoverable arena of proposed blocks, their
// QCs, and the 2-chain commit rule that prunes committed history. Grounded
// on rootchain/consensus/storage/{block_store.go,block_tree.go,
// block_executor.go}, generalized away from their Alphabill
// shard/UnicityTree specifics.
package blockstore

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
)

type BlockStore struct {
	hash      crypto.Hash
	blockTree *BlockTree
	storage   PersistentStore
	lock      sync.RWMutex
	log       *slog.Logger
}

// New opens the Block Store against db, bootstrapping genesis if this is a
// first-ever startup.
func New(hashAlgo crypto.Hash, db PersistentStore, log *slog.Logger) (*BlockStore, error) {
	if db == nil {
		return nil, errors.New("storage is nil")
	}
	tree, err := NewBlockTree(db)
	if err != nil {
		return nil, fmt.Errorf("initializing block tree: %w", err)
	}
	return &BlockStore{hash: hashAlgo, blockTree: tree, storage: db, log: log}, nil
}

// NewFromState rebuilds the Block Store from a peer-supplied StateMsg
// (recovery/Block Sync, spec §6): the committed head becomes the new root,
// discarding whatever local history disagreed with it, and every still-
// pending (QCed-but-uncommitted) block is replayed on top of it through
// committer in the order state.Pending lists them; a block listed before
// its parent fails to replay.
func NewFromState(hashAlgo crypto.Hash, state *StateMsg, committer StateCommitter, db PersistentStore, log *slog.Logger) (*BlockStore, error) {
	if db == nil {
		return nil, errors.New("storage is nil")
	}
	if state == nil || state.CommittedHead == nil {
		return nil, errors.New("state is missing committed head")
	}
	head := state.CommittedHead
	rootBlock := &ExecutedBlock{
		BlockData: head.Block,
		HashAlgo:  hashAlgo,
		Qc:        head.Qc,
		CommitQc:  head.CommitQc,
		RootHash:  head.CommitQc.LedgerCommitInfo.Hash,
	}
	tree, err := NewBlockTreeWithRootBlock(rootBlock, db)
	if err != nil {
		return nil, fmt.Errorf("creating block tree from recovery state: %w", err)
	}
	store := &BlockStore{hash: hashAlgo, blockTree: tree, storage: db, log: log}

	// Each pending block embeds the QC for its own parent, but Add only
	// reinserts the blocks: those QCs are not inserted into the tree, so the
	// high QC stays the committed head's CommitQc.
	for _, pending := range state.Pending {
		if _, err := store.Add(pending, committer); err != nil {
			return nil, fmt.Errorf("replaying pending block round %d: %w", pending.Round, err)
		}
	}
	return store, nil
}

// ProcessTc records tc as the latest known timeout certificate and removes
// the now-abandoned proposal for its round, if any was inserted.
func (x *BlockStore) ProcessTc(tc *ctypes.TimeoutCert) (rErr error) {
	if tc == nil {
		return errors.New("tc is nil")
	}
	if err := x.storage.WriteTC(tc); err != nil {
		rErr = fmt.Errorf("tc write failed: %w", err)
	}
	if err := x.blockTree.RemoveLeaf(tc.GetRound()); err != nil {
		return errors.Join(rErr, fmt.Errorf("removing timeout block %d: %w", tc.GetRound(), err))
	}
	return rErr
}

func (x *BlockStore) GetDB() PersistentStore { return x.storage }

// ProcessQc inserts qc into the tree and, when it carries a commit, prunes
// the newly-committed history (spec §4.1).
func (x *BlockStore) ProcessQc(qc *ctypes.QuorumCert) error {
	if qc == nil {
		return errors.New("qc is nil")
	}
	if x.GetHighQc().GetRound() >= qc.GetRound() {
		return nil // stale
	}
	if err := x.blockTree.InsertQc(qc); err != nil {
		return fmt.Errorf("failed to insert qc into block tree: %w", err)
	}
	if !qc.IsCommitQc() {
		return nil
	}
	if err := x.blockTree.Commit(qc); err != nil {
		return fmt.Errorf("committing new root block: %w", err)
	}
	return nil
}

// Add extends the tree with block, computing its state commitment via
// committer. Returns the new block's root hash (execStateID).
func (x *BlockStore) Add(block *ctypes.BlockData, committer StateCommitter) ([]byte, error) {
	if b, err := x.blockTree.FindBlock(block.GetRound()); err == nil && b != nil {
		existingHash, err := b.BlockData.Hash(x.hash)
		if err != nil {
			return nil, fmt.Errorf("hashing existing block: %w", err)
		}
		newHash, err := block.Hash(x.hash)
		if err != nil {
			return nil, fmt.Errorf("hashing new block: %w", err)
		}
		if bytes.Equal(existingHash, newHash) {
			return b.RootHash, nil // already have it, e.g. re-delivered during recovery
		}
		return nil, fmt.Errorf("add block failed: different block for round %d already in store", block.Round)
	}

	parent, err := x.blockTree.FindBlock(block.GetParentRound())
	if err != nil {
		return nil, fmt.Errorf("add block failed: parent round %d not found, recover", block.GetParentRound())
	}
	exeBlock, err := parent.Extend(block, committer)
	if err != nil {
		return nil, fmt.Errorf("error processing block round %d: %w", block.Round, err)
	}
	if err := x.blockTree.Add(exeBlock); err != nil {
		return nil, fmt.Errorf("adding block to the tree: %w", err)
	}
	return exeBlock.RootHash, nil
}

func (x *BlockStore) GetHighQc() *ctypes.QuorumCert { return x.blockTree.HighQc() }

func (x *BlockStore) GetLastTC() (*ctypes.TimeoutCert, error) { return x.storage.ReadLastTC() }

func (x *BlockStore) GetState() *StateMsg { return x.blockTree.CurrentState() }

// Block returns the ExecutedBlock for round, or an error if it is unknown.
func (x *BlockStore) Block(round uint64) (*ExecutedBlock, error) { return x.blockTree.FindBlock(round) }

func (x *BlockStore) StoreLastVote(vote *ctypes.Vote) error { return x.storage.WriteVote(vote) }

func (x *BlockStore) ReadLastVote() (*ctypes.Vote, error) { return x.storage.ReadLastVote() }
