// Package admission implements request admission control: a sliding-window
// rate limiter and a free-tier token budget gate for anonymous callers.
//
// Both are backed by injected counter stores so the core logic carries no
// global state. The in-process store suits single-instance deployments; the
// Redis store shares counters across instances.
package admission

import (
	"context"
	"sync"
	"time"
)

// WindowStore tracks admitted request timestamps per identity.
type WindowStore interface {
	// Prune drops entries older than cutoff and reports the remaining count
	// and the oldest remaining timestamp (zero when the window is empty).
	Prune(ctx context.Context, identity string, cutoff time.Time) (count int, oldest time.Time, err error)

	// Append records an admitted request at time t.
	Append(ctx context.Context, identity string, t time.Time) error

	// Sweep removes identities whose windows are entirely older than cutoff.
	Sweep(ctx context.Context, cutoff time.Time) error
}

// LedgerStore tracks cumulative token usage per identity. Usage only grows;
// there is no decay or reset path within a process lifetime.
type LedgerStore interface {
	// Usage returns the cumulative recorded cost for identity.
	Usage(ctx context.Context, identity string) (int, error)

	// AddUsage records cost against identity and returns the new total.
	AddUsage(ctx context.Context, identity string, cost int) (int, error)
}

// =============================================================================
// In-Memory Stores
// =============================================================================

// MemoryStore is an in-process WindowStore and LedgerStore.
//
// Two concurrent requests from the same identity can race between prune and
// append; at worst one request over the nominal limit is admitted. That
// imprecision is accepted: the limiter damps abuse, it does not do accounting.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	usage   map[string]int
}

// NewMemoryStore creates an empty in-process counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string][]time.Time),
		usage:   make(map[string]int),
	}
}

// Prune implements WindowStore.
func (s *MemoryStore) Prune(_ context.Context, identity string, cutoff time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := s.windows[identity]
	kept := window[:0]
	for _, t := range window {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	s.windows[identity] = kept

	if len(kept) == 0 {
		return 0, time.Time{}, nil
	}
	return len(kept), kept[0], nil
}

// Append implements WindowStore.
func (s *MemoryStore) Append(_ context.Context, identity string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[identity] = append(s.windows[identity], t)
	return nil
}

// Sweep implements WindowStore.
func (s *MemoryStore) Sweep(_ context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for identity, window := range s.windows {
		stale := true
		for _, t := range window {
			if !t.Before(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(s.windows, identity)
		}
	}
	return nil
}

// Usage implements LedgerStore.
func (s *MemoryStore) Usage(_ context.Context, identity string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[identity], nil
}

// AddUsage implements LedgerStore.
func (s *MemoryStore) AddUsage(_ context.Context, identity string, cost int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[identity] += cost
	return s.usage[identity], nil
}
