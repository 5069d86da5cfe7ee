package recovery

import (
	"context"
	"crypto"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Galxe/gravity-sdk/consensus/blockstore"
	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
	"github.com/Galxe/gravity-sdk/gcei"
	"github.com/Galxe/gravity-sdk/persistence/memorydb"
)

type constCommitter struct{ root []byte }

func (c constCommitter) CommitState(parentRoot []byte, block *ctypes.BlockData) ([]byte, error) {
	return append(append([]byte{}, c.root...), byte(block.Round)), nil
}

func newTestStore(t *testing.T) *blockstore.BlockStore {
	t.Helper()
	db, err := memorydb.New()
	require.NoError(t, err)
	store, err := blockstore.New(crypto.SHA256, blockstore.NewKVStore(db), slog.Default())
	require.NoError(t, err)
	return store
}

func TestStartup_ReplaysBlocksTheExecLayerLost(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	committer := constCommitter{root: []byte("g")}

	genesis, err := store.Block(ctypes.GenesisRound)
	require.NoError(t, err)

	b1 := &ctypes.BlockData{Round: 1, Qc: genesis.Qc, Payload: &ctypes.Payload{}}
	root1, err := store.Add(b1, committer)
	require.NoError(t, err)
	qc1 := &ctypes.QuorumCert{VoteInfo: &ctypes.RoundInfo{RoundNumber: 1, ParentRoundNumber: 0, CurrentRootHash: root1}}
	require.NoError(t, store.ProcessQc(qc1))

	// exec layer has executed nothing: both genesis and round 1 must replay.
	exec := gcei.NewInProcess()
	resumeRound, err := Startup(ctx, store, exec, 0, nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, resumeRound) // highQc round (1) + 1

	latest, err := exec.LatestBlockNumber(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, latest) // genesis + round 1 replayed
}

func TestStartup_SkipsAlreadyExecutedBlocks(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	committer := constCommitter{root: []byte("g")}

	genesis, err := store.Block(ctypes.GenesisRound)
	require.NoError(t, err)
	b1 := &ctypes.BlockData{Round: 1, Qc: genesis.Qc, Payload: &ctypes.Payload{}}
	_, err = store.Add(b1, committer)
	require.NoError(t, err)

	exec := gcei.NewInProcess()
	// exec layer already executed genesis only.
	require.NoError(t, exec.RecvOrderedBlock(ctx, genesis.BlockData))

	_, err = Startup(ctx, store, exec, 0, nil)
	require.NoError(t, err)

	latest, err := exec.LatestBlockNumber(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, latest) // genesis (already there) + round 1 replayed
}

func TestStartup_PropagatesExecLayerErrors(t *testing.T) {
	store := newTestStore(t)
	_, err := Startup(context.Background(), store, failingExec{}, 0, nil)
	require.Error(t, err)
}

type failingExec struct{ gcei.ExecutionLayer }

func (failingExec) LatestBlockNumber(context.Context) (uint64, error) {
	return 0, errors.New("execution layer unreachable")
}
