// Package recovery implements spec §4.8: on-process-start recovery (the
// consensus DB and the execution layer reconciling after an unclean
// shutdown) and peer-assisted Block Sync (catching a lagging node up to a
// peer's certified chain). Grounded on the teacher's
// rootchain/consensus.ConsensusManager recovery/sync machinery (observed
// through consensus_recovery_test.go) and golang.org/x/sync/errgroup for
// concurrent replay, matching the teacher's pervasive use of errgroup for
// fan-out with first-error propagation.
package recovery

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Galxe/gravity-sdk/consensus/blockstore"
	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
	"github.com/Galxe/gravity-sdk/gcei"
)

// Startup reconciles the Block Store against the execution layer on
// process start (spec §4.8 "On-process-start recovery"): the committed head
// and every pending block whose round is at or above the height the
// execution layer reports get re-delivered via RecoverOrderedBlock (a
// reported height of 0 replays genesis too), then the execution layer is handed
// its fresh epoch context. Returns the round the round state machine
// should resume at.
func Startup(ctx context.Context, bs *blockstore.BlockStore, exec gcei.ExecutionLayer, epoch uint64, validators []*ctypes.ValidatorInfo) (resumeRound uint64, err error) {
	execHeight, err := exec.LatestBlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("querying execution layer height: %w", err)
	}

	state := bs.GetState()
	toReplay := make([]*ctypes.BlockData, 0, len(state.Pending)+1)
	if state.CommittedHead != nil && state.CommittedHead.Block.GetRound() >= execHeight {
		toReplay = append(toReplay, state.CommittedHead.Block)
	}
	for _, block := range state.Pending {
		if block.GetRound() >= execHeight {
			toReplay = append(toReplay, block)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, block := range toReplay {
		block := block
		g.Go(func() error {
			if err := exec.RecoverOrderedBlock(gctx, block); err != nil {
				return fmt.Errorf("replaying block round %d to execution layer: %w", block.GetRound(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if err := exec.RegisterExecutionArgs(ctx, epoch, validators); err != nil {
		return 0, fmt.Errorf("registering execution args: %w", err)
	}

	return bs.GetHighQc().GetRound() + 1, nil
}
