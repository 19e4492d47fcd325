package dispatch

import (
	"sync"
	"time"
)

// Inflight guards against dispatching the same opportunity twice. Entries
// are released by Done, or expire after ttl if a dispatch never completes.
// It is safe for concurrent use.
type Inflight struct {
	started map[string]time.Time // opportunityID -> start time
	ttl     time.Duration
	mu      sync.Mutex
	now     func() time.Time
}

// NewInflight creates an Inflight set.
func NewInflight(ttl time.Duration) *Inflight {
	return &Inflight{
		started: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Begin records id and returns true, or returns false if id is already in
// flight and has not expired.
func (f *Inflight) Begin(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if ts, ok := f.started[id]; ok && now.Sub(ts) < f.ttl {
		return false
	}
	f.started[id] = now
	return true
}

// Done releases id.
func (f *Inflight) Done(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.started, id)
}

// Len returns the number of tracked entries.
func (f *Inflight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

// Cleanup drops expired entries.
func (f *Inflight) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	for id, ts := range f.started {
		if now.Sub(ts) >= f.ttl {
			delete(f.started, id)
		}
	}
}
