package progress

import (
	"fmt"
	"sync"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"

	"github.com/alanbriolat/video-fetcher/generic"
	sync_ "github.com/alanbriolat/video-fetcher/internal/sync"
)

func TestStore_Current(t *testing.T) {
	assert := assert_.New(t)
	s := NewStore(nil)
	assert.True(s.Current().IsZero())

	s.Update(Snapshot{Percentage: 10, Filename: "a.mp4"})
	// Reading has no side effects
	first := s.Current()
	second := s.Current()
	assert.Equal(first, second)
	assert.Equal(10.0, first.Percentage)

	s.Reset()
	assert.True(s.Current().IsZero())
}

func TestStore_ApplyLine(t *testing.T) {
	assert := assert_.New(t)
	var seen []Snapshot
	s := NewStore(func(snapshot Snapshot) { seen = append(seen, snapshot) })

	assert.True(s.ApplyLine("[download] Destination: clip.mp4"))
	assert.False(s.ApplyLine("[youtube] extracting"))
	assert.True(s.ApplyLine("[download]  50.0% of 1.00MiB at 2.00MiB/s ETA 00:01"))
	assert.False(s.ApplyLine("[download] nothing here"))

	assert.Equal([]Snapshot{
		{Filename: "clip.mp4"},
		{Percentage: 50, Speed: "2.00MiB/s", ETA: "00:01", Filename: "clip.mp4"},
	}, seen)
	assert.Equal(seen[1], s.Current())
}

func TestStore_ApplyNone(t *testing.T) {
	assert := assert_.New(t)
	calls := 0
	s := NewStore(func(Snapshot) { calls++ })
	assert.False(s.Apply(func(Snapshot) generic.Option[Snapshot] { return generic.None[Snapshot]() }))
	assert.Equal(0, calls)
	s.Reset()
	assert.Equal(0, calls)
}

// Every field of a written snapshot is derived from the same counter, so a reader can tell if it saw a mix of two.
func TestStore_NoTornReads(t *testing.T) {
	assert := assert_.New(t)
	s := NewStore(nil)
	start := sync_.NewEvent()
	done := sync_.NewEvent()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer done.Set()
		<-start.Wait()
		for i := 1; i <= 1000; i++ {
			s.Update(Snapshot{
				Percentage: float64(i % 101),
				Speed:      fmt.Sprintf("%dB/s", i),
				ETA:        fmt.Sprintf("%d", i),
				Filename:   fmt.Sprintf("%d.mp4", i),
			})
		}
	}()

	var mu sync.Mutex
	var torn []Snapshot
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start.Wait()
			for !done.IsSet() {
				snapshot := s.Current()
				if snapshot.IsZero() {
					continue
				}
				var n int
				_, _ = fmt.Sscanf(snapshot.ETA, "%d", &n)
				if snapshot.Speed != fmt.Sprintf("%dB/s", n) || snapshot.Filename != fmt.Sprintf("%d.mp4", n) ||
					snapshot.Percentage != float64(n%101) {
					mu.Lock()
					torn = append(torn, snapshot)
					mu.Unlock()
				}
			}
		}()
	}

	start.Set()
	wg.Wait()
	assert.Empty(torn)
	assert.Equal("1000", s.Current().ETA)
}

func TestStore_SlowObserverDoesNotBlockReaders(t *testing.T) {
	assert := assert_.New(t)
	entered := sync_.NewEvent()
	release := make(chan struct{})
	s := NewStore(func(Snapshot) {
		entered.Set()
		<-release
	})

	updated := make(chan struct{})
	go func() {
		defer close(updated)
		s.Update(Snapshot{Percentage: 42})
	}()
	<-entered.Wait()

	read := make(chan Snapshot, 1)
	go func() { read <- s.Current() }()
	select {
	case snapshot := <-read:
		assert.Equal(42.0, snapshot.Percentage)
	case <-time.After(time.Second):
		assert.Fail("Current blocked on the observer")
	}

	close(release)
	<-updated
}
