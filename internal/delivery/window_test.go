package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateWindowEnforcesLimit(t *testing.T) {
	w := &rateWindow{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		assert.True(t, w.Allow(5, now), "send %d should fit", i)
	}
	assert.False(t, w.Allow(5, now), "sixth send in the same minute must be refused")
	assert.Equal(t, 5, w.Occupancy(now))
}

func TestRateWindowSlides(t *testing.T) {
	w := &rateWindow{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, w.Allow(1, now))
	assert.False(t, w.Allow(1, now.Add(30*time.Second)))

	// The first send falls out of the window after 60s.
	later := now.Add(61 * time.Second)
	assert.True(t, w.Allow(1, later))
	assert.Equal(t, 1, w.Occupancy(later))
}

func TestRateWindowZeroLimitIsUnlimited(t *testing.T) {
	w := &rateWindow{}
	now := time.Now()
	for i := 0; i < 100; i++ {
		assert.True(t, w.Allow(0, now))
	}
}
