package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := newBreaker()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < breakerThreshold-1; i++ {
		assert.True(t, b.Admit(now))
		b.RecordFailure(now)
	}
	state, failures, _ := b.Snapshot()
	assert.Equal(t, BreakerClosed, state)
	assert.Equal(t, breakerThreshold-1, failures)

	assert.True(t, b.Admit(now))
	b.RecordFailure(now)

	state, _, next := b.Snapshot()
	assert.Equal(t, BreakerOpen, state)
	assert.Equal(t, now.Add(breakerCooloff), next)
	assert.False(t, b.Admit(now.Add(time.Minute)))
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := newBreaker()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < breakerThreshold; i++ {
		b.RecordFailure(now)
	}

	probe := now.Add(breakerCooloff)
	assert.True(t, b.Admit(probe), "first admission after cooloff is the probe")
	assert.False(t, b.Admit(probe), "only one probe may be in flight")

	b.RecordSuccess()
	state, failures, _ := b.Snapshot()
	assert.Equal(t, BreakerClosed, state)
	assert.Zero(t, failures)
	assert.True(t, b.Admit(probe.Add(time.Second)))
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := newBreaker()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < breakerThreshold; i++ {
		b.RecordFailure(now)
	}

	probe := now.Add(breakerCooloff + time.Second)
	assert.True(t, b.Admit(probe))
	b.RecordFailure(probe)

	state, _, next := b.Snapshot()
	assert.Equal(t, BreakerOpen, state)
	assert.Equal(t, probe.Add(breakerCooloff), next)
	assert.False(t, b.Admit(probe.Add(time.Minute)))
}
