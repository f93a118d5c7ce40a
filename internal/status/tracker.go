// internal/status/tracker.go
package status

import (
	"sync"
	"time"
)

// Tracker aggregates per-tag health into one process-wide Health.
// Safe for concurrent use.
type Tracker struct {
	mu         sync.RWMutex
	tags       map[string]Snapshot
	staleAfter time.Duration
	now        func() time.Time
}

// NewTracker creates an empty tracker. staleAfter <= 0 disables staleness.
func NewTracker(staleAfter time.Duration) *Tracker {
	return &Tracker{
		tags:       make(map[string]Snapshot),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Track registers a tag in HealthUnknown. Existing state is kept.
func (t *Tracker) Track(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tags[id]; !ok {
		t.tags[id] = Snapshot{Health: HealthUnknown, Since: t.now()}
	}
}

// Forget removes a tag.
func (t *Tracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tags, id)
}

// Reset removes every tag.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tags = make(map[string]Snapshot)
}

// Observe records the result of one cycle and reports whether the tag's
// health changed. A nil err means success.
func (t *Tracker) Observe(id string, err error) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	snap := t.tags[id]
	prev := snap.Health
	snap.LastSeen = now

	if err == nil {
		// Recovery / OK
		snap.Health = HealthOK
		snap.LastError = ""
		snap.ConsecutiveFailures = 0
	} else {
		snap.Health = HealthError
		snap.LastError = err.Error()
		snap.ConsecutiveFailures++
	}

	changed := snap.Health != prev || snap.Since.IsZero()
	if changed {
		snap.Since = now
	}
	t.tags[id] = snap
	return snap, changed
}

// Snapshot returns the state of one tag.
func (t *Tracker) Snapshot(id string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.tags[id]
	if ok {
		s.Health = t.effective(s)
	}
	return s, ok
}

// Aggregate computes the process-wide health:
// Error if any tag is in error or stale, OK if every tag is OK,
// Unknown otherwise (no tags, or some tags have not reported yet).
func (t *Tracker) Aggregate() Health {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.tags) == 0 {
		return HealthUnknown
	}

	all := true
	for _, s := range t.tags {
		switch t.effective(s) {
		case HealthError, HealthStale:
			return HealthError
		case HealthOK:
		default:
			all = false
		}
	}
	if all {
		return HealthOK
	}
	return HealthUnknown
}

func (t *Tracker) effective(s Snapshot) Health {
	if t.staleAfter > 0 && s.Health == HealthOK && t.now().Sub(s.LastSeen) > t.staleAfter {
		return HealthStale
	}
	return s.Health
}
