package blockstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/Galxe/gravity-sdk/persistence"

	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
)

// Column-family prefixes (spec §4.7). "blocks" holds every ExecutedBlock
// ever added; "qcs" is unused directly (QCs travel embedded in blocks and
// votes) but kept as a documented reservation matching the teacher's naming;
// "single_entry" holds the two small always-overwritten slots (last vote,
// last TC).
const (
	prefixBlocks = "blocks/"
	keyLastVote  = "single_entry/blockstore/last_vote"
	keyLastTC    = "single_entry/blockstore/last_tc"
)

// KVStore is the durable PersistentStore, backed by any persistence.KeyValueDB
// (leveldb in production, memorydb in tests).
type KVStore struct {
	db persistence.KeyValueDB
}

func NewKVStore(db persistence.KeyValueDB) *KVStore {
	return &KVStore{db: db}
}

func blockKey(round uint64) []byte {
	buf := make([]byte, len(prefixBlocks)+8)
	copy(buf, prefixBlocks)
	binary.BigEndian.PutUint64(buf[len(prefixBlocks):], round)
	return buf
}

// LoadBlocks returns every stored block, sorted by descending round (the
// order BlockTree bootstrap expects: first one with a CommitQc is the root).
func (s *KVStore) LoadBlocks() ([]*ExecutedBlock, error) {
	var blocks []*ExecutedBlock
	err := s.db.Iterate([]byte(prefixBlocks), func(_, value []byte) bool {
		var b ExecutedBlock
		if decErr := cbor.Unmarshal(value, &b); decErr != nil {
			return false
		}
		blocks = append(blocks, &b)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("loading blocks: %w", err)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].GetRound() > blocks[j].GetRound() })
	return blocks, nil
}

// WriteBlock persists block. root is informational only here (the teacher
// uses it to decide fsync-vs-not; this store writes every block through the
// underlying KeyValueDB's Set, which the leveldb backend syncs, so root has
// no further effect beyond documenting intent at call sites).
func (s *KVStore) WriteBlock(block *ExecutedBlock, root bool) error {
	buf, err := cbor.Marshal(block)
	if err != nil {
		return fmt.Errorf("encoding block for round %d: %w", block.GetRound(), err)
	}
	return s.db.Set(blockKey(block.GetRound()), buf)
}

func (s *KVStore) WriteVote(vote *ctypes.Vote) error {
	buf, err := cbor.Marshal(vote)
	if err != nil {
		return fmt.Errorf("encoding vote: %w", err)
	}
	return s.db.Set([]byte(keyLastVote), buf)
}

func (s *KVStore) ReadLastVote() (*ctypes.Vote, error) {
	buf, err := s.db.Get([]byte(keyLastVote))
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var vote ctypes.Vote
	if err := cbor.Unmarshal(buf, &vote); err != nil {
		return nil, fmt.Errorf("decoding last vote: %w", err)
	}
	return &vote, nil
}

func (s *KVStore) WriteTC(tc *ctypes.TimeoutCert) error {
	buf, err := cbor.Marshal(tc)
	if err != nil {
		return fmt.Errorf("encoding tc: %w", err)
	}
	return s.db.Set([]byte(keyLastTC), buf)
}

func (s *KVStore) ReadLastTC() (*ctypes.TimeoutCert, error) {
	buf, err := s.db.Get([]byte(keyLastTC))
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tc ctypes.TimeoutCert
	if err := cbor.Unmarshal(buf, &tc); err != nil {
		return nil, fmt.Errorf("decoding last tc: %w", err)
	}
	return &tc, nil
}
