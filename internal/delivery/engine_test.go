package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type stubSender struct {
	mu       sync.Mutex
	calls    int
	failFor  int // first N calls fail
	lastCtx  context.Context
	external string
}

func (s *stubSender) Send(ctx context.Context, ch *Channel, n *Notification) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastCtx = ctx
	if s.calls <= s.failFor {
		return "", errors.New("provider unavailable")
	}
	return s.external, nil
}

func (s *stubSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type memStore struct {
	mu      sync.Mutex
	records []*Record
}

func (m *memStore) RecordDelivery(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) last() *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return nil
	}
	return m.records[len(m.records)-1]
}

func testEngine(store Store, sender Sender) (*Engine, *[]time.Duration) {
	e := NewEngine(store, map[ChannelType]Sender{TypeWebhook: sender})
	var slept []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return e, &slept
}

func webhookChannel(retries int) *Channel {
	return &Channel{
		ID:            uuid.New(),
		Name:          "ops-hook",
		Type:          TypeWebhook,
		RetryAttempts: retries,
		IsActive:      true,
		Webhook:       &WebhookConfig{URL: "http://example.invalid/hook"},
	}
}

func testNotification() *Notification {
	return &Notification{
		AlertID:   uuid.New(),
		Priority:  "high",
		Message:   "Person detected",
		Timestamp: time.Now(),
	}
}

func TestDeliverSuccessFirstAttempt(t *testing.T) {
	store := &memStore{}
	sender := &stubSender{external: "msg-123"}
	e, slept := testEngine(store, sender)

	rec := e.Deliver(context.Background(), webhookChannel(3), testNotification())

	assert.Equal(t, StatusSent, rec.Status)
	assert.Equal(t, "msg-123", rec.ExternalID)
	assert.Zero(t, rec.RetryCount)
	assert.NotNil(t, rec.SentAt)
	assert.Empty(t, *slept)
	assert.Equal(t, 1, sender.callCount())
	assert.Same(t, rec, store.last())
}

func TestDeliverRetriesWithExponentialBackoff(t *testing.T) {
	store := &memStore{}
	sender := &stubSender{failFor: 2}
	e, slept := testEngine(store, sender)

	rec := e.Deliver(context.Background(), webhookChannel(4), testNotification())

	assert.Equal(t, StatusSent, rec.Status)
	assert.Equal(t, 2, rec.RetryCount)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *slept)
	assert.Equal(t, 3, sender.callCount())
}

func TestDeliverBreakerCutsRetryLoop(t *testing.T) {
	store := &memStore{}
	sender := &stubSender{failFor: 100}
	e, slept := testEngine(store, sender)

	ch := webhookChannel(9)
	rec := e.Deliver(context.Background(), ch, testNotification())

	assert.Equal(t, StatusFailed, rec.Status)
	// Five failures trip the breaker, so only four backoffs happen before the
	// retry loop is cut off.
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
	}, *slept)
	assert.Contains(t, rec.ErrorMessage, "circuit breaker")
}

func TestDeliverExhaustsRetries(t *testing.T) {
	store := &memStore{}
	sender := &stubSender{failFor: 100}
	e, _ := testEngine(store, sender)

	rec := e.Deliver(context.Background(), webhookChannel(3), testNotification())

	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, 2, rec.RetryCount)
	assert.Equal(t, "provider unavailable", rec.ErrorMessage)
	assert.Equal(t, 3, sender.callCount())
}

func TestDeliverRateLimitSkips(t *testing.T) {
	store := &memStore{}
	sender := &stubSender{}
	e, _ := testEngine(store, sender)

	ch := webhookChannel(1)
	ch.RateLimitPerMinute = 2

	assert.Equal(t, StatusSent, e.Deliver(context.Background(), ch, testNotification()).Status)
	assert.Equal(t, StatusSent, e.Deliver(context.Background(), ch, testNotification()).Status)

	rec := e.Deliver(context.Background(), ch, testNotification())
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "rate limit window full", rec.ErrorMessage)
	assert.Equal(t, 2, sender.callCount())
}

func TestDeliverBreakerRefusesWhileOpen(t *testing.T) {
	store := &memStore{}
	sender := &stubSender{failFor: 100}
	e, _ := testEngine(store, sender)

	ch := webhookChannel(5)
	e.Deliver(context.Background(), ch, testNotification()) // trips breaker

	before := sender.callCount()
	rec := e.Deliver(context.Background(), ch, testNotification())
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "circuit breaker open", rec.ErrorMessage)
	assert.Equal(t, before, sender.callCount(), "open breaker must not reach the sender")

	stats := e.Stats()
	assert.Len(t, stats, 1)
	assert.Equal(t, BreakerOpen, stats[0].BreakerState)
	assert.NotNil(t, stats[0].NextAttempt)
	assert.Equal(t, int64(1), stats[0].BreakerSkipped)
}

func TestDeliverInactiveChannel(t *testing.T) {
	store := &memStore{}
	sender := &stubSender{}
	e, _ := testEngine(store, sender)

	ch := webhookChannel(3)
	ch.IsActive = false

	rec := e.Deliver(context.Background(), ch, testNotification())
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "channel inactive", rec.ErrorMessage)
	assert.Zero(t, sender.callCount())
}

func TestDeliverUnknownSenderType(t *testing.T) {
	store := &memStore{}
	e := NewEngine(store, map[ChannelType]Sender{})

	ch := webhookChannel(3)
	rec := e.Deliver(context.Background(), ch, testNotification())
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "no sender for type")
}

func TestDispatchFansOutAllChannels(t *testing.T) {
	store := &memStore{}
	sender := &stubSender{}
	e, _ := testEngine(store, sender)

	channels := []*Channel{webhookChannel(1), webhookChannel(1), webhookChannel(1)}
	records := e.Dispatch(context.Background(), channels, testNotification())

	assert.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, channels[i].ID, rec.ChannelID)
		assert.Equal(t, StatusSent, rec.Status)
	}
	assert.Equal(t, 3, sender.callCount())
}

func TestGuardsAreIndependentPerChannel(t *testing.T) {
	store := &memStore{}
	sender := &stubSender{failFor: 5}
	e, _ := testEngine(store, sender)

	bad := webhookChannel(5)
	e.Deliver(context.Background(), bad, testNotification()) // trips bad's breaker

	good := webhookChannel(1)
	rec := e.Deliver(context.Background(), good, testNotification())
	assert.Equal(t, StatusSent, rec.Status, "one channel's breaker must not affect another")
}
