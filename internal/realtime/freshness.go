package realtime

import (
	"sync"
	"time"
)

// Freshness holds the time of the latest event seen by one subscription.
// It starts empty and never moves backwards.
type Freshness struct {
	mu   sync.RWMutex
	last *time.Time
	now  func() time.Time
}

func NewFreshness(now func() time.Time) *Freshness {
	if now == nil {
		now = time.Now
	}
	return &Freshness{now: now}
}

// Touch records an event at the current wall clock time.
func (f *Freshness) Touch() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := f.now()
	if f.last != nil && t.Before(*f.last) {
		t = *f.last
	}
	f.last = &t
	return t
}

// LastUpdate is nil until the first event.
func (f *Freshness) LastUpdate() *time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.last == nil {
		return nil
	}
	t := *f.last
	return &t
}
