package capture

import (
	"sync"
	"time"

	"github.com/timvw/pane-relay/internal/model"
)

// Key identifies one baseline: a canonical pane id and a capture mode.
type Key struct {
	PaneID string
	Mode   model.CaptureMode
}

// Baseline is the most recent full capture observed for a key.
type Baseline struct {
	Lines      []string
	ObservedAt time.Time
}

// BaselineStore holds one baseline per key.
//
// The mutex only keeps the map itself safe. Two callers polling the same key
// may still interleave their read-compare-write; callers are expected to poll
// one key from one place. Entries are never evicted.
type BaselineStore struct {
	mu      sync.RWMutex
	entries map[Key]*Baseline
	now     func() time.Time
}

// NewBaselineStore creates an empty store.
func NewBaselineStore() *BaselineStore {
	return &BaselineStore{
		entries: make(map[Key]*Baseline),
		now:     time.Now,
	}
}

// Get returns a copy of the baseline for key.
func (s *BaselineStore) Get(key Key) (Baseline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.entries[key]
	if !ok {
		return Baseline{}, false
	}
	return *b, true
}

// Replace stores lines as the new baseline for key.
func (s *BaselineStore) Replace(key Key, lines []string) {
	cp := append([]string(nil), lines...)
	s.mu.Lock()
	s.entries[key] = &Baseline{Lines: cp, ObservedAt: s.now()}
	s.mu.Unlock()
}

// Touch refreshes the observation time without changing the lines.
func (s *BaselineStore) Touch(key Key) {
	s.mu.Lock()
	if b, ok := s.entries[key]; ok {
		b.ObservedAt = s.now()
	}
	s.mu.Unlock()
}

// Forget drops the baseline for key.
func (s *BaselineStore) Forget(key Key) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Len returns the number of tracked keys.
func (s *BaselineStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
