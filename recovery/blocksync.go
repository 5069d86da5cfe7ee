package recovery

import (
	"context"
	"crypto"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/Galxe/gravity-sdk/consensus/blockstore"
	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
	"github.com/Galxe/gravity-sdk/gcei"
	"github.com/Galxe/gravity-sdk/network"
	"github.com/Galxe/gravity-sdk/network/protocol/blocksync"
	"github.com/Galxe/gravity-sdk/observability/logger"
)

// Syncer drives peer-assisted Block Sync (spec §4.8): triggered once a
// ConsensusMessage's SyncInfo shows a peer certifying a round ahead of
// ours, it fetches the peer's committed chain first, then its
// QCed-but-uncommitted tail, and rebuilds the local Block Store on top via
// blockstore.NewFromState.
type Syncer struct {
	id       ctypes.NodeID
	hashAlgo crypto.Hash
	net      network.Network
	exec     gcei.ExecutionLayer
	committer blockstore.StateCommitter
}

func NewSyncer(id ctypes.NodeID, hashAlgo crypto.Hash, net network.Network, exec gcei.ExecutionLayer) *Syncer {
	return &Syncer{id: id, hashAlgo: hashAlgo, net: net, exec: exec, committer: &execCommitter{hashAlgo: hashAlgo, exec: exec}}
}

// SyncTo fetches from as directed by the peer's SyncInfo: first its
// committed chain through peerHighestCommitRound, then its uncommitted tail
// through peerHighestQuorumRound, rebuilding a fresh Block Store over the
// result. Returns the round the round state machine should resume at.
func (s *Syncer) SyncTo(ctx context.Context, from peer.ID, db blockstore.PersistentStore, committedRound, peerHighestCommitRound, peerHighestQuorumRound uint64) (*blockstore.BlockStore, uint64, error) {
	committedResp, err := s.request(ctx, from, committedRound+1, peerHighestCommitRound)
	if err != nil {
		return nil, 0, fmt.Errorf("fetching committed blocks: %w", err)
	}
	if len(committedResp.Blocks) == 0 {
		return nil, 0, errors.New("peer returned no committed blocks for requested range")
	}
	head := committedResp.Blocks[len(committedResp.Blocks)-1]

	var pending []*ctypes.BlockData
	if peerHighestQuorumRound > peerHighestCommitRound {
		pendingResp, err := s.request(ctx, from, peerHighestCommitRound+1, peerHighestQuorumRound)
		if err != nil {
			return nil, 0, fmt.Errorf("fetching pending blocks: %w", err)
		}
		for _, cb := range pendingResp.Blocks {
			pending = append(pending, cb.Block)
		}
	}

	state := &blockstore.StateMsg{CommittedHead: head, Pending: pending}
	bs, err := blockstore.NewFromState(s.hashAlgo, state, s.committer, db, logger.NOP())
	if err != nil {
		return nil, 0, fmt.Errorf("rebuilding block store from peer state: %w", err)
	}
	blockID, err := head.Block.Hash(s.hashAlgo)
	if err != nil {
		return nil, 0, fmt.Errorf("hashing synced commit head: %w", err)
	}
	if err := s.exec.CommitBlockInfo(ctx, &ctypes.ExecutionResult{BlockID: blockID, BlockNumber: head.Block.GetRound(), StateRootHash: head.CommitQc.LedgerCommitInfo.Hash}); err != nil {
		return nil, 0, fmt.Errorf("informing execution layer of synced commit: %w", err)
	}

	return bs, bs.GetHighQc().GetRound() + 1, nil
}

// request sends a Request to peer and blocks for the matching Response,
// matched by UUID since requests and responses share the same inbound
// channel as every other consensus-core message.
func (s *Syncer) request(ctx context.Context, to peer.ID, begin, end uint64) (*blocksync.Response, error) {
	req := &blocksync.Request{UUID: uuid.New(), NodeID: string(s.id), BeginRound: begin, EndRound: end}
	if err := req.IsValid(); err != nil {
		return nil, fmt.Errorf("invalid block sync request: %w", err)
	}
	if err := s.net.Send(ctx, req, to); err != nil {
		return nil, fmt.Errorf("sending block sync request: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg := <-s.net.ReceivedChannel():
			resp, ok := msg.(*blocksync.Response)
			if !ok || resp.UUID != req.UUID {
				continue
			}
			if err := resp.IsValid(); err != nil {
				return nil, fmt.Errorf("invalid block sync response: %w", err)
			}
			if resp.Status != blocksync.Ok {
				return nil, fmt.Errorf("peer %s returned block sync status %s: %s", to, resp.Status, resp.Message)
			}
			return resp, nil
		}
	}
}

// execCommitter adapts gcei.ExecutionLayer to blockstore.StateCommitter for
// blocks replayed during Block Sync: the execution layer re-derives the
// state root for each block as it is reinserted.
type execCommitter struct {
	hashAlgo crypto.Hash
	exec     gcei.ExecutionLayer
}

func (c *execCommitter) CommitState(parentRoot []byte, block *ctypes.BlockData) ([]byte, error) {
	ctx := context.Background()
	if err := c.exec.RecvOrderedBlock(ctx, block); err != nil {
		return nil, fmt.Errorf("delivering synced block round %d to execution layer: %w", block.GetRound(), err)
	}
	id, err := block.Hash(c.hashAlgo)
	if err != nil {
		return nil, fmt.Errorf("hashing synced block round %d: %w", block.GetRound(), err)
	}
	result, err := c.exec.SendExecutedBlockHash(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("computing state root for synced block round %d: %w", block.GetRound(), err)
	}
	return result.StateRootHash, nil
}
