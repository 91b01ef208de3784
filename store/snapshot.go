// Package store persists order book snapshots so the book state survives
// for inspection across restarts. Snapshots are JSON documents in a pebble
// database, keyed by a monotonically increasing sequence.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	exchange "github.com/AceTheNinja/bfx-challenge"
)

var ErrNoSnapshot = errors.New("store: no snapshot saved")

var latestKey = []byte("snapshot/latest")

func snapshotKey(seq uint64) []byte {
	key := make([]byte, 0, 16)
	key = append(key, []byte("snapshot/")...)
	return binary.BigEndian.AppendUint64(key, seq)
}

// SnapshotStore is a pebble-backed snapshot archive.
type SnapshotStore struct {
	db      *pebble.DB
	lastSeq uint64
}

// Open opens (or creates) the store in dir and resumes the sequence from
// the last saved snapshot.
func Open(dir string) (*SnapshotStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dir, err)
	}

	s := &SnapshotStore{db: db}

	value, closer, err := db.Get(latestKey)
	switch {
	case err == nil:
		s.lastSeq = binary.BigEndian.Uint64(value)
		_ = closer.Close()
	case errors.Is(err, pebble.ErrNotFound):
		// Fresh store.
	default:
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Save writes the snapshot under the next sequence and returns it.
func (s *SnapshotStore) Save(snap *exchange.OrderBookSnapshot) (uint64, error) {
	value, err := json.Marshal(snap)
	if err != nil {
		return 0, err
	}

	seq := s.lastSeq + 1

	batch := s.db.NewBatch()
	if err := batch.Set(snapshotKey(seq), value, nil); err != nil {
		return 0, err
	}
	if err := batch.Set(latestKey, binary.BigEndian.AppendUint64(nil, seq), nil); err != nil {
		return 0, err
	}
	if err := s.db.Apply(batch, pebble.Sync); err != nil {
		return 0, err
	}

	s.lastSeq = seq
	return seq, nil
}

// Latest returns the most recently saved snapshot and its sequence, or
// ErrNoSnapshot when nothing has been saved.
func (s *SnapshotStore) Latest() (*exchange.OrderBookSnapshot, uint64, error) {
	if s.lastSeq == 0 {
		return nil, 0, ErrNoSnapshot
	}
	return s.Get(s.lastSeq)
}

// Get returns the snapshot saved under seq.
func (s *SnapshotStore) Get(seq uint64) (*exchange.OrderBookSnapshot, uint64, error) {
	value, closer, err := s.db.Get(snapshotKey(seq))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, 0, ErrNoSnapshot
	}
	if err != nil {
		return nil, 0, err
	}
	defer closer.Close()

	var snap exchange.OrderBookSnapshot
	if err := json.Unmarshal(value, &snap); err != nil {
		return nil, 0, err
	}
	return &snap, seq, nil
}

func (s *SnapshotStore) Close() error {
	return s.db.Close()
}
