// Package snapshot holds the currently published contest snapshot and its meta.
package snapshot

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/contestboard/internal/contest"
)

// Pair is one published (Snapshot, Meta) value. Pairs are never mutated after
// they are stored.
type Pair struct {
	Snapshot *contest.Snapshot
	Meta     contest.Meta
}

// Store is a single-writer, many-reader holder for the current Pair. Reads never
// block and always observe a complete pair.
type Store struct {
	current atomic.Pointer[Pair]
}

// NewStore returns a Store holding an empty, never-published pair.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(&Pair{Snapshot: contest.EmptySnapshot()})
	return s
}

// Read returns the current pair.
func (s *Store) Read() (*contest.Snapshot, contest.Meta) {
	p := s.current.Load()
	return p.Snapshot, p.Meta
}

// Publish atomically replaces the current pair. The meta must describe snap.
func (s *Store) Publish(snap *contest.Snapshot, meta contest.Meta) error {
	if snap == nil {
		return errors.New("snapshot is nil")
	}
	if meta.ContestCount != snap.Len() {
		return fmt.Errorf("%w: count %d != %d", contest.ErrInconsistentPair, meta.ContestCount, snap.Len())
	}
	if meta.BuildID != snap.BuildID() {
		return fmt.Errorf("%w: build %q != %q", contest.ErrInconsistentPair, meta.BuildID, snap.BuildID())
	}
	s.current.Store(&Pair{Snapshot: snap, Meta: meta})
	return nil
}

// MarkFailed records a failed attempt against the current snapshot without
// advancing LastUpdate. The snapshot itself is left as is.
func (s *Store) MarkFailed(at time.Time, cause error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	for {
		old := s.current.Load()
		meta := old.Meta
		meta.LastAttempt = at.UTC()
		meta.LastError = msg
		if s.current.CompareAndSwap(old, &Pair{Snapshot: old.Snapshot, Meta: meta}) {
			return
		}
	}
}

// Ready reports whether at least one snapshot has been published.
func (s *Store) Ready() bool {
	return !s.current.Load().Meta.LastUpdate.IsZero()
}
