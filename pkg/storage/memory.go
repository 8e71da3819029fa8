package storage

import (
	"context"
	"errors"
	"sync/atomic"
)

// MemoryStore keeps the latest snapshot behind an atomic pointer.
// It is safe for concurrent use by one writer and any number of readers:
// Put swaps in a private copy, so a reader always sees one complete snapshot.
type MemoryStore struct {
	current atomic.Pointer[Snapshot]
	puts    atomic.Uint64
}

// NewMemoryStore creates a store seeded with initial. The seed does not
// count as a Put, so GetLatest reports found == false until the first one.
func NewMemoryStore(initial Snapshot) *MemoryStore {
	s := &MemoryStore{}
	seed := initial.Clone()
	s.current.Store(&seed)
	return s
}

// Put replaces the current snapshot.
func (s *MemoryStore) Put(ctx context.Context, snapshot Snapshot) error {
	if snapshot.Services == nil {
		return errors.New("snapshot services cannot be nil")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	next := snapshot.Clone()
	s.current.Store(&next)
	s.puts.Add(1)
	return nil
}

// GetLatest returns the current snapshot; found is false while only the seed
// has been stored.
func (s *MemoryStore) GetLatest(ctx context.Context) (Snapshot, bool, error) {
	select {
	case <-ctx.Done():
		return Snapshot{}, false, ctx.Err()
	default:
	}

	return s.Latest(), s.puts.Load() > 0, nil
}

// Latest returns a copy of the current snapshot without blocking.
func (s *MemoryStore) Latest() Snapshot {
	return s.current.Load().Clone()
}
