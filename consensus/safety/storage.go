package safety

import (
	"encoding/binary"
	"fmt"

	"github.com/Galxe/gravity-sdk/persistence"
)

// keys in the "single_entry" column family (spec §4.7): Safety Rules state
// is two fixed-size scalars, never iterated, always read/written whole.
const (
	keyHighestVotedRound = "single_entry/safety/highest_voted_round"
	keyHighestQcRound    = "single_entry/safety/highest_qc_round"
)

// DBStorage persists Safety Rules state to a persistence.KeyValueDB with
// mandatory fsync, so a crash mid-vote can never resurrect a validator that
// forgets what it already voted for (spec §4.7 Atomicity requirement).
type DBStorage struct {
	db persistence.KeyValueDB
}

func NewDBStorage(db persistence.KeyValueDB) *DBStorage {
	return &DBStorage{db: db}
}

func (s *DBStorage) GetHighestVotedRound() uint64 {
	return s.getRound(keyHighestVotedRound)
}

func (s *DBStorage) GetHighestQcRound() uint64 {
	return s.getRound(keyHighestQcRound)
}

func (s *DBStorage) SetHighestVotedRound(round uint64) error {
	return s.db.Set([]byte(keyHighestVotedRound), encodeRound(round))
}

func (s *DBStorage) SetHighestQcRound(qcRound, votedRound uint64) error {
	return s.db.WriteBatch(func(b persistence.Batch) error {
		if err := b.Set([]byte(keyHighestQcRound), encodeRound(qcRound)); err != nil {
			return fmt.Errorf("writing highest qc round: %w", err)
		}
		if err := b.Set([]byte(keyHighestVotedRound), encodeRound(votedRound)); err != nil {
			return fmt.Errorf("writing highest voted round: %w", err)
		}
		return nil
	})
}

func (s *DBStorage) getRound(key string) uint64 {
	v, err := s.db.Get([]byte(key))
	if err != nil {
		return 0
	}
	return decodeRound(v)
}

func encodeRound(round uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, round)
	return buf
}

func decodeRound(buf []byte) uint64 {
	if len(buf) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(buf)
}

// InMemoryStorage is a Storage for tests that don't want a real DB, mirroring
// the teacher test suite's fakeSafetyStorage pattern.
type InMemoryStorage struct {
	highestVotedRound uint64
	highestQcRound    uint64
}

func NewInMemoryStorage() *InMemoryStorage { return &InMemoryStorage{} }

func (s *InMemoryStorage) GetHighestVotedRound() uint64 { return s.highestVotedRound }
func (s *InMemoryStorage) GetHighestQcRound() uint64    { return s.highestQcRound }

func (s *InMemoryStorage) SetHighestVotedRound(round uint64) error {
	s.highestVotedRound = round
	return nil
}

func (s *InMemoryStorage) SetHighestQcRound(qcRound, votedRound uint64) error {
	s.highestQcRound = qcRound
	s.highestVotedRound = votedRound
	return nil
}
