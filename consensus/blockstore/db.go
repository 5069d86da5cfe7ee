package blockstore

import (
	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
)

// PersistentStore is what the Block Tree and Block Store need from the
// Consensus DB (spec §4.7): load/save blocks, and the two single-entry slots
// that must survive a restart so a node never re-sends a vote or forgets a
// TC it already formed. Grounded on the teacher's
// rootchain/consensus/storage.PersistentStore interface, generalized away
// from its shard-specific "any" vote type.
type PersistentStore interface {
	LoadBlocks() ([]*ExecutedBlock, error)
	WriteBlock(block *ExecutedBlock, root bool) error

	WriteVote(vote *ctypes.Vote) error
	ReadLastVote() (*ctypes.Vote, error)

	WriteTC(tc *ctypes.TimeoutCert) error
	ReadLastTC() (*ctypes.TimeoutCert, error)
}
