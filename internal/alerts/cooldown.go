package alerts

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type cooldownKey struct {
	ruleID   uuid.UUID
	personID string
	cameraID string
}

// cooldownMap serializes alert emission per (rule, person, camera). Acquire
// checks and inserts under one lock, so two concurrent evaluations of the
// same sighting pair can never both emit.
type cooldownMap struct {
	mu      sync.Mutex
	expiry  map[cooldownKey]time.Time
	skipped atomic.Int64
}

func newCooldownMap() *cooldownMap {
	return &cooldownMap{expiry: make(map[cooldownKey]time.Time)}
}

// Acquire returns true when no cooldown is active for the key and records a
// new expiry at now+d. On an active cooldown it increments the skip counter
// and returns false.
func (m *cooldownMap) Acquire(key cooldownKey, d time.Duration, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if exp, ok := m.expiry[key]; ok && exp.After(now) {
		m.skipped.Add(1)
		return false
	}
	m.expiry[key] = now.Add(d)
	return true
}

func (m *cooldownMap) Skipped() int64 {
	return m.skipped.Load()
}

// Prune drops expired entries; the evaluator runs it on its sweep ticker so
// the map does not grow without bound.
func (m *cooldownMap) Prune(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, exp := range m.expiry {
		if !exp.After(now) {
			delete(m.expiry, k)
		}
	}
}
