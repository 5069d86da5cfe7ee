package blockstore

import (
	"crypto"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
	"github.com/Galxe/gravity-sdk/persistence/memorydb"
)

type constCommitter struct{ root []byte }

func (c constCommitter) CommitState(parentRoot []byte, block *ctypes.BlockData) ([]byte, error) {
	return append(append([]byte{}, c.root...), byte(block.Round)), nil
}

func newTestStore(t *testing.T) *BlockStore {
	t.Helper()
	db, err := memorydb.New()
	require.NoError(t, err)
	store, err := New(crypto.SHA256, NewKVStore(db), slog.Default())
	require.NoError(t, err)
	return store
}

func TestBlockStore_AddAndCommit(t *testing.T) {
	store := newTestStore(t)
	committer := constCommitter{root: []byte("genesis")}

	genesis, err := store.Block(ctypes.GenesisRound)
	require.NoError(t, err)
	require.NotNil(t, genesis.CommitQc)

	// round 1 extends genesis
	b1 := &ctypes.BlockData{Round: 1, Qc: genesis.Qc, Payload: &ctypes.Payload{}}
	root1, err := store.Add(b1, committer)
	require.NoError(t, err)
	require.NotEmpty(t, root1)

	qc1 := &ctypes.QuorumCert{VoteInfo: &ctypes.RoundInfo{RoundNumber: 1, ParentRoundNumber: 0, CurrentRootHash: root1}}
	require.NoError(t, store.ProcessQc(qc1))
	require.False(t, qc1.IsCommitQc())

	// round 2 extends round 1, its embedded qc1 is contiguous with genesis (round 0)
	// so this QC (once formed) will not yet commit anything: the contiguity that
	// matters for committing round 1 is qc1 itself being contiguous with genesis,
	// which constructCommitInfo (safety module) would have detected when voting.
	b2 := &ctypes.BlockData{Round: 2, Qc: qc1, Payload: &ctypes.Payload{}}
	root2, err := store.Add(b2, committer)
	require.NoError(t, err)

	// simulate the safety module's commit-carrying QC for round 2: since
	// qc1.VoteInfo.ParentRoundNumber(0) == 0, genesis is excluded from commit
	// per the special case, so this QC must not commit anything either.
	qc2NoCommit := &ctypes.QuorumCert{VoteInfo: &ctypes.RoundInfo{RoundNumber: 2, ParentRoundNumber: 1, CurrentRootHash: root2}}
	require.NoError(t, store.ProcessQc(qc2NoCommit))
	require.Equal(t, uint64(0), store.GetState().CommittedHead.Block.Round)

	// round 3 extends round 2; qc2's own parent round (1) is now contiguous with
	// round1's own parent (genesis, round 0) -- still genesis-excluded. To get a
	// real commit we need a chain where the committed block's parent is non-genesis.
	b3 := &ctypes.BlockData{Round: 3, Qc: qc2NoCommit, Payload: &ctypes.Payload{}}
	root3, err := store.Add(b3, committer)
	require.NoError(t, err)
	qc3Commits := &ctypes.QuorumCert{
		VoteInfo:         &ctypes.RoundInfo{RoundNumber: 3, ParentRoundNumber: 2, CurrentRootHash: root3},
		LedgerCommitInfo: &ctypes.LedgerCommitInfo{CommitRound: 2, Hash: root2},
	}
	require.NoError(t, store.ProcessQc(qc3Commits))
	require.True(t, qc3Commits.IsCommitQc())

	committed, err := store.Block(2)
	require.NoError(t, err)
	require.Equal(t, uint64(2), committed.GetRound())
	require.Equal(t, uint64(2), store.GetState().CommittedHead.Block.Round)

	// round 1 should have been pruned along with genesis
	_, err = store.Block(0)
	require.Error(t, err)
	_, err = store.Block(1)
	require.Error(t, err)
}
