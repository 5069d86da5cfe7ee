// Package persistence defines the keyed, column-family-style store backing
// the Consensus DB (spec §4.7) and provides two implementations: an
// in-memory one for tests and a durable one backed by goleveldb.
package persistence

import "errors"

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// KeyValueDB is the minimal durable storage capability the consensus core
// needs. Column families are modeled as key prefixes (see
// consensus/blockstore.KVStore), matching how the teacher's own keyvaluedb
// interface is used by every persistence-backed component (BlockStore,
// SafetyModule, trustbase.Store).
type KeyValueDB interface {
	Get(key []byte) (value []byte, err error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// WriteBatch atomically applies a set of writes/deletes; fsync is
	// mandatory for batches that contain Safety Rules state or QC-bearing
	// blocks (spec §4.7 Atomicity requirement).
	WriteBatch(fn func(b Batch) error) error
	// Iterate calls fn for every key with the given prefix, in ascending key
	// order, until fn returns false or all matching keys are exhausted.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
	Close() error
}

// Batch accumulates writes for atomic application.
type Batch interface {
	Set(key, value []byte) error
	Delete(key []byte) error
}
