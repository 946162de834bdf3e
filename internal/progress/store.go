package progress

import (
	"sync"

	"github.com/alanbriolat/video-fetcher/generic"
	sync_ "github.com/alanbriolat/video-fetcher/internal/sync"
)

// Observer is told about every snapshot the store accepts, in order. It runs after the snapshot lock is released, so
// a slow observer delays other writers but never readers.
type Observer func(Snapshot)

// Store holds the latest snapshot of a download. Readers always see a snapshot exactly as some writer stored it.
type Store struct {
	state *sync_.RWMutexed[Snapshot]
	// Held across store-then-notify, so observers see snapshots in the order they were stored.
	writeMu  sync.Mutex
	observer Observer
}

func NewStore(observer Observer) *Store {
	return &Store{
		state:    sync_.NewRWMutexed(Snapshot{}),
		observer: observer,
	}
}

func (s *Store) Current() Snapshot {
	return s.state.Get()
}

// Update replaces the snapshot and notifies the observer.
func (s *Store) Update(snapshot Snapshot) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.state.Set(snapshot)
	s.notify(snapshot)
}

// Apply runs f against the current snapshot and stores its result, if any, as one atomic step. It reports whether the
// snapshot was replaced.
func (s *Store) Apply(f func(prev Snapshot) generic.Option[Snapshot]) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	var next Snapshot
	applied := false
	_ = s.state.Locked(func(current *Snapshot) error {
		if next, applied = f(*current).Get(); applied {
			*current = next
		}
		return nil
	})
	if applied {
		s.notify(next)
	}
	return applied
}

// ApplyLine feeds one line of tool output through Parse.
func (s *Store) ApplyLine(line string) bool {
	return s.Apply(func(prev Snapshot) generic.Option[Snapshot] {
		return Parse(line, prev)
	})
}

// Reset clears the snapshot without notifying the observer, ready for the next download.
func (s *Store) Reset() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.state.Set(Snapshot{})
}

func (s *Store) notify(snapshot Snapshot) {
	if s.observer != nil {
		s.observer(snapshot)
	}
}
