package delivery

import (
	"sync"
	"time"
)

// rateWindow is a sliding 60-second window of send timestamps for one
// channel. Allow is consulted on the delivery path, so it stays in-process;
// the Redis limiter guards the HTTP surface instead.
type rateWindow struct {
	mu    sync.Mutex
	sends []time.Time
}

const windowSpan = 60 * time.Second

// Allow reports whether another send fits under limit, recording it if so.
func (w *rateWindow) Allow(limit int, now time.Time) bool {
	if limit <= 0 {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-windowSpan)
	kept := w.sends[:0]
	for _, t := range w.sends {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.sends = kept

	if len(w.sends) >= limit {
		return false
	}
	w.sends = append(w.sends, now)
	return true
}

// Occupancy returns the number of sends inside the current window.
func (w *rateWindow) Occupancy(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-windowSpan)
	n := 0
	for _, t := range w.sends {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
