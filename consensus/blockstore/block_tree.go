package blockstore

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"
	"slices"
	"sync"

	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
)

type node struct {
	data  *ExecutedBlock
	child []*node
}

func newNode(b *ExecutedBlock) *node {
	return &node{data: b, child: make([]*node, 0, 2)}
}

func (n *node) addChild(child *node) {
	n.child = append(n.child, child)
}

func (n *node) removeChild(child *node) {
	for i, c := range n.child {
		if c == child {
			n.child = slices.Delete(n.child, i, i+1)
			break
		}
	}
}

// BlockTree is the in-memory arena of all not-yet-pruned ExecutedBlocks
// (spec §3 "Arena-style node handles"), rooted at the last committed block.
// Grounded directly on
// rootchain/consensus/storage/block_tree.go, generalized away from its
// shard-certification bookkeeping.
type BlockTree struct {
	root        *node
	roundToNode map[uint64]*node
	highQc      *ctypes.QuorumCert
	blocksDB    PersistentStore
	m           sync.RWMutex
}

var ErrCommitFailed = errors.New("commit failed")

// NewBlockTreeWithRootBlock seeds a BlockTree from an already-known root,
// e.g. the last committed block recovered from a peer during Block Sync.
func NewBlockTreeWithRootBlock(block *ExecutedBlock, bDB PersistentStore) (*BlockTree, error) {
	if err := bDB.WriteBlock(block, true); err != nil {
		return nil, fmt.Errorf("block write failed: %w", err)
	}
	rootNode := newNode(block)
	return &BlockTree{
		roundToNode: map[uint64]*node{rootNode.data.GetRound(): rootNode},
		root:        rootNode,
		highQc:      block.CommitQc,
		blocksDB:    bDB,
	}, nil
}

// NewBlockTree loads the tree from the Consensus DB, bootstrapping a fresh
// genesis block when the DB is empty (first-ever startup).
func NewBlockTree(bDB PersistentStore) (*BlockTree, error) {
	if bDB == nil {
		return nil, errors.New("block tree init failed, database is nil")
	}
	blocks, err := bDB.LoadBlocks()
	if err != nil {
		return nil, fmt.Errorf("root db read error: %w", err)
	}
	if len(blocks) == 0 {
		genesisBlock, err := NewGenesisBlock(crypto.SHA256)
		if err != nil {
			return nil, fmt.Errorf("creating genesis block for empty db: %w", err)
		}
		return NewBlockTreeWithRootBlock(genesisBlock, bDB)
	}

	// blocks are sorted in descending round order; the first one carrying a
	// CommitQc is the root.
	rootIdx := slices.IndexFunc(blocks, func(b *ExecutedBlock) bool { return b.CommitQc != nil })
	if rootIdx == -1 {
		return nil, errors.New("root block not found")
	}
	rootNode := newNode(blocks[rootIdx])
	hQC := rootNode.data.CommitQc
	treeNodes := map[uint64]*node{rootNode.data.GetRound(): rootNode}
	for i := rootIdx - 1; i >= 0; i-- {
		block := blocks[i]
		parent, found := treeNodes[block.GetParentRound()]
		if !found {
			return nil, fmt.Errorf("cannot add block for round %d, parent block %d not found", block.GetRound(), block.GetParentRound())
		}
		n := newNode(block)
		treeNodes[block.GetRound()] = n
		parent.addChild(n)
		if n.data.Qc.GetRound() > hQC.GetRound() {
			hQC = n.data.Qc
		}
	}

	return &BlockTree{
		roundToNode: treeNodes,
		root:        rootNode,
		highQc:      hQC,
		blocksDB:    bDB,
	}, nil
}

func (bt *BlockTree) InsertQc(qc *ctypes.QuorumCert) error {
	b, err := bt.FindBlock(qc.GetRound())
	if err != nil {
		return fmt.Errorf("find block: %w", err)
	}
	if !bytes.Equal(b.RootHash, qc.VoteInfo.CurrentRootHash) {
		return errors.New("qc state hash is different from local computed state hash")
	}

	bt.m.Lock()
	defer bt.m.Unlock()
	b.Qc = qc
	if err := bt.blocksDB.WriteBlock(b, false); err != nil {
		return fmt.Errorf("failed to persist block for round %d: %w", b.GetRound(), err)
	}
	bt.highQc = qc
	return nil
}

func (bt *BlockTree) HighQc() *ctypes.QuorumCert {
	bt.m.RLock()
	defer bt.m.RUnlock()
	return bt.highQc
}

// Add adds block as a new leaf, assuming its parent is already present.
func (bt *BlockTree) Add(block *ExecutedBlock) error {
	bt.m.Lock()
	defer bt.m.Unlock()
	if _, found := bt.roundToNode[block.GetRound()]; found {
		return fmt.Errorf("block for round %d already exists", block.GetRound())
	}
	parent, found := bt.roundToNode[block.GetParentRound()]
	if !found {
		return fmt.Errorf("cannot add block for round %d, parent block %d not found", block.GetRound(), block.GetParentRound())
	}
	n := newNode(block)
	parent.addChild(n)
	bt.roundToNode[block.GetRound()] = n
	return bt.blocksDB.WriteBlock(n.data, false)
}

// RemoveLeaf removes a leaf node; it is a no-op if the round was never
// inserted (a TC remove may be triggered twice) and an error if the round
// still has children (it isn't a leaf) or is the root.
func (bt *BlockTree) RemoveLeaf(round uint64) error {
	bt.m.Lock()
	defer bt.m.Unlock()
	if bt.root.data.GetRound() == round {
		return errors.New("root block cannot be removed")
	}
	n, found := bt.roundToNode[round]
	if !found {
		return nil
	}
	if len(n.child) > 0 {
		return fmt.Errorf("round %d is not a leaf node", round)
	}
	parent, found := bt.roundToNode[n.data.GetParentRound()]
	if !found {
		return fmt.Errorf("parent block %d not found", n.data.GetParentRound())
	}
	delete(bt.roundToNode, round)
	parent.removeChild(n)
	return nil
}

func (bt *BlockTree) Root() *ExecutedBlock {
	bt.m.RLock()
	defer bt.m.RUnlock()
	return bt.root.data
}

// findPathToRoot returns the chain of blocks from round back to (but
// excluding) the current root, or nil if round is unknown.
func (bt *BlockTree) findPathToRoot(round uint64) []*ExecutedBlock {
	n, found := bt.roundToNode[round]
	if !found {
		return nil
	}
	if n == bt.root {
		return []*ExecutedBlock{}
	}
	path := make([]*ExecutedBlock, 0, 2)
	for {
		parent, found := bt.roundToNode[n.data.GetParentRound()]
		if !found {
			return nil
		}
		path = append(path, n.data)
		if parent == bt.root {
			break
		}
		n = parent
	}
	return path
}

func (bt *BlockTree) GetAllUncommittedNodes() []*ExecutedBlock {
	bt.m.RLock()
	defer bt.m.RUnlock()
	return bt.allUncommittedNodes()
}

func (bt *BlockTree) allUncommittedNodes() []*ExecutedBlock {
	blocks := make([]*ExecutedBlock, 0, 2)
	toCheck := append([]*node{}, bt.root.child...)
	for len(toCheck) > 0 {
		var n *node
		n, toCheck = toCheck[len(toCheck)-1], toCheck[:len(toCheck)-1]
		toCheck = append(toCheck, n.child...)
		blocks = append(blocks, n.data)
	}
	return blocks
}

// findBlocksToPrune returns the round of every block outside the subtree
// rooted at newRootRound: the current root, the blocks between it and
// newRootRound, and any competing fork, in no particular order.
func (bt *BlockTree) findBlocksToPrune(newRootRound uint64) ([]uint64, error) {
	pruned := make([]uint64, 0, 2)
	if newRootRound == bt.root.data.GetRound() {
		return pruned, nil
	}
	toCheck := []*node{bt.root}
	found := false
	for len(toCheck) > 0 {
		var n *node
		n, toCheck = toCheck[len(toCheck)-1], toCheck[:len(toCheck)-1]
		for _, child := range n.child {
			if child.data.GetRound() == newRootRound {
				found = true
				continue
			}
			toCheck = append(toCheck, child)
		}
		pruned = append(pruned, n.data.GetRound())
	}
	if !found {
		return nil, fmt.Errorf("new root round %d not found", newRootRound)
	}
	return pruned, nil
}

func (bt *BlockTree) FindBlock(round uint64) (*ExecutedBlock, error) {
	bt.m.RLock()
	defer bt.m.RUnlock()
	if n, found := bt.roundToNode[round]; found {
		return n.data, nil
	}
	return nil, fmt.Errorf("block for round %d not found", round)
}

// Commit applies the 2-chain commit rule (spec §4.1): commitQc's own parent
// round becomes the new root, and every intervening block is pruned.
func (bt *BlockTree) Commit(commitQc *ctypes.QuorumCert) error {
	bt.m.Lock()
	defer bt.m.Unlock()

	commitRound := commitQc.GetParentRound()
	commitNode, found := bt.roundToNode[commitRound]
	if !found {
		return errors.Join(ErrCommitFailed, fmt.Errorf("block for round %d not found", commitRound))
	}

	pruned, err := bt.findBlocksToPrune(commitRound)
	if err != nil {
		return fmt.Errorf("finding blocks to prune on round %d: %w", commitRound, err)
	}
	for _, round := range pruned {
		delete(bt.roundToNode, round)
	}

	commitNode.data.CommitQc = commitQc
	if err := bt.blocksDB.WriteBlock(commitNode.data, true); err != nil {
		return err
	}
	bt.root = commitNode
	return nil
}

// CurrentState reports the committed root plus every uncommitted descendant,
// the payload Block Sync sends to a lagging peer (spec §6).
func (bt *BlockTree) CurrentState() *StateMsg {
	bt.m.RLock()
	defer bt.m.RUnlock()

	pending := bt.allUncommittedNodes()
	pendingData := make([]*ctypes.BlockData, len(pending))
	for i, b := range pending {
		pendingData[i] = b.BlockData
	}
	root := bt.root.data
	return &StateMsg{
		CommittedHead: &CommittedBlock{
			Block:    root.BlockData,
			Qc:       root.Qc,
			CommitQc: root.CommitQc,
		},
		Pending: pendingData,
	}
}

// CommittedBlock pairs a block with its certifying QCs, as exchanged during
// Block Sync.
type CommittedBlock struct {
	Block    *ctypes.BlockData
	Qc       *ctypes.QuorumCert
	CommitQc *ctypes.QuorumCert
}

// StateMsg is the "where I am" snapshot a node offers a lagging peer (spec
// §6 Block Sync): the committed head plus whatever uncommitted blocks are
// still live in the tree.
type StateMsg struct {
	CommittedHead *CommittedBlock
	Pending       []*ctypes.BlockData
}
