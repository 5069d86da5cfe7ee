// Package leveldb backs persistence.KeyValueDB with goleveldb, giving the
// Consensus DB (spec §4.7) durability across restarts. Grounded on
// tolelom-tolchain's storage.LevelDB, which wraps the same library the same
// way (OpenFile, Get/Put/Delete, prefix iterator, fsync-on-write batch).
package leveldb

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/Galxe/gravity-sdk/persistence"
)

type DB struct {
	db *leveldb.DB
}

// Open opens (or creates) a goleveldb database at path. Writes are
// configured to sync, matching the "fsync is mandatory on Safety Rules
// state and on QC-bearing blocks" requirement of spec §5.
func Open(path string) (*DB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %q: %w", path, err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Get(key []byte) ([]byte, error) {
	v, err := d.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (d *DB) Set(key, value []byte) error {
	return d.db.Put(key, value, &opt.WriteOptions{Sync: true})
}

func (d *DB) Delete(key []byte) error {
	return d.db.Delete(key, &opt.WriteOptions{Sync: true})
}

func (d *DB) WriteBatch(fn func(b persistence.Batch) error) error {
	batch := new(leveldb.Batch)
	wrapped := &levelBatch{batch: batch}
	if err := fn(wrapped); err != nil {
		return err
	}
	return d.db.Write(batch, &opt.WriteOptions{Sync: true})
}

func (d *DB) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	it := d.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		key := append([]byte(nil), it.Key()...)
		val := append([]byte(nil), it.Value()...)
		if !fn(key, val) {
			break
		}
	}
	return it.Error()
}

func (d *DB) Close() error { return d.db.Close() }

type levelBatch struct {
	batch *leveldb.Batch
}

func (b *levelBatch) Set(key, value []byte) error {
	b.batch.Put(key, value)
	return nil
}

func (b *levelBatch) Delete(key []byte) error {
	b.batch.Delete(key)
	return nil
}
