package delivery

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sender is one channel adapter. A nil error means the provider accepted
// the message; the returned id is provider-assigned when available.
type Sender interface {
	Send(ctx context.Context, ch *Channel, n *Notification) (externalID string, err error)
}

// Store records delivery outcomes. Production uses the notifier's Postgres
// repository.
type Store interface {
	RecordDelivery(ctx context.Context, rec *Record) error
}

// ChannelStats is the per-channel observability snapshot.
type ChannelStats struct {
	ChannelID       uuid.UUID    `json:"channel_id"`
	BreakerState    BreakerState `json:"breaker_state"`
	Failures        int          `json:"consecutive_failures"`
	NextAttempt     *time.Time   `json:"next_attempt,omitempty"`
	WindowOccupancy int          `json:"window_occupancy"`
	Sent            int64        `json:"sent"`
	Failed          int64        `json:"failed"`
	RateSkipped     int64        `json:"rate_limited_skips"`
	BreakerSkipped  int64        `json:"breaker_skips"`
}

type channelGuard struct {
	window  *rateWindow
	breaker *breaker

	mu           sync.Mutex
	sent         int64
	failed       int64
	rateSkips    int64
	breakerSkips int64
}

// Engine fans one logical notification out across channels with per-channel
// rate limiting, circuit breaking, bounded retry and attempt timeouts.
type Engine struct {
	senders map[ChannelType]Sender
	store   Store

	mu     sync.Mutex
	guards map[uuid.UUID]*channelGuard

	// now and sleep are swapped in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(store Store, senders map[ChannelType]Sender) *Engine {
	return &Engine{
		senders: senders,
		store:   store,
		guards:  make(map[uuid.UUID]*channelGuard),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (e *Engine) guard(id uuid.UUID) *channelGuard {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.guards[id]
	if !ok {
		g = &channelGuard{window: &rateWindow{}, breaker: newBreaker()}
		e.guards[id] = g
	}
	return g
}

// Dispatch delivers n on every channel concurrently and waits for all of
// them. Individual channel failures are absorbed into DeliveryRecords.
func (e *Engine) Dispatch(ctx context.Context, channels []*Channel, n *Notification) []*Record {
	records := make([]*Record, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch *Channel) {
			defer wg.Done()
			records[i] = e.Deliver(ctx, ch, n)
		}(i, ch)
	}
	wg.Wait()
	return records
}

// Deliver runs the full guard chain for one channel: rate window, breaker,
// retry loop with exponential backoff, per-attempt timeout. The outcome is
// always recorded; Deliver itself never returns an error.
func (e *Engine) Deliver(ctx context.Context, ch *Channel, n *Notification) *Record {
	rec := &Record{
		ID:        uuid.New(),
		AlertID:   n.AlertID,
		ChannelID: ch.ID,
		Status:    StatusPending,
		CreatedAt: e.now().UTC(),
		Metadata:  map[string]string{"channel_type": string(ch.Type)},
	}

	if !ch.IsActive {
		rec.Status = StatusFailed
		rec.ErrorMessage = "channel inactive"
		e.record(ctx, rec)
		return rec
	}

	sender, ok := e.senders[ch.Type]
	if !ok {
		rec.Status = StatusFailed
		rec.ErrorMessage = fmt.Sprintf("no sender for type %s", ch.Type)
		e.record(ctx, rec)
		return rec
	}

	g := e.guard(ch.ID)

	if !g.window.Allow(ch.RateLimitPerMinute, e.now()) {
		g.mu.Lock()
		g.rateSkips++
		g.mu.Unlock()
		rec.Status = StatusFailed
		rec.ErrorMessage = "rate limit window full"
		e.record(ctx, rec)
		return rec
	}

	if !g.breaker.Admit(e.now()) {
		g.mu.Lock()
		g.breakerSkips++
		g.mu.Unlock()
		rec.Status = StatusFailed
		rec.ErrorMessage = "circuit breaker open"
		e.record(ctx, rec)
		return rec
	}

	budget := ch.retryBudget()
	var lastErr error
	for attempt := 1; attempt <= budget; attempt++ {
		if attempt > 1 {
			// Each retry is a fresh admission question for the breaker.
			if !g.breaker.Admit(e.now()) {
				lastErr = fmt.Errorf("circuit breaker opened mid-retry")
				break
			}
			// min(2^(attempt-2), 60)s between attempt N and N+1.
			backoff := time.Duration(math.Min(math.Pow(2, float64(attempt-2)), 60)) * time.Second
			if err := e.sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, ch.timeout())
		externalID, err := sender.Send(attemptCtx, ch, n)
		cancel()

		if err == nil {
			g.breaker.RecordSuccess()
			g.mu.Lock()
			g.sent++
			g.mu.Unlock()
			now := e.now().UTC()
			rec.Status = StatusSent
			rec.SentAt = &now
			rec.ExternalID = externalID
			rec.RetryCount = attempt - 1
			e.record(ctx, rec)
			return rec
		}

		lastErr = err
		g.breaker.RecordFailure(e.now())
		rec.RetryCount = attempt - 1
		log.Printf("[WARN] Delivery %s via %s attempt %d/%d failed: %v",
			rec.ID, ch.Name, attempt, budget, err)
	}

	g.mu.Lock()
	g.failed++
	g.mu.Unlock()
	rec.Status = StatusFailed
	if lastErr != nil {
		rec.ErrorMessage = lastErr.Error()
	}
	e.record(ctx, rec)
	return rec
}

func (e *Engine) record(ctx context.Context, rec *Record) {
	if e.store == nil {
		return
	}
	// Recording is observability, not control flow; failures are logged and
	// absorbed.
	dbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.store.RecordDelivery(dbCtx, rec); err != nil {
		log.Printf("[ERROR] Delivery record %s not persisted: %v", rec.ID, err)
	}
}

// Stats snapshots every channel guard the engine has seen.
func (e *Engine) Stats() []ChannelStats {
	e.mu.Lock()
	ids := make([]uuid.UUID, 0, len(e.guards))
	for id := range e.guards {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	out := make([]ChannelStats, 0, len(ids))
	for _, id := range ids {
		g := e.guard(id)
		state, failures, next := g.breaker.Snapshot()
		g.mu.Lock()
		s := ChannelStats{
			ChannelID:       id,
			BreakerState:    state,
			Failures:        failures,
			WindowOccupancy: g.window.Occupancy(e.now()),
			Sent:            g.sent,
			Failed:          g.failed,
			RateSkipped:     g.rateSkips,
			BreakerSkipped:  g.breakerSkips,
		}
		g.mu.Unlock()
		if !next.IsZero() {
			t := next
			s.NextAttempt = &t
		}
		out = append(out, s)
	}
	return out
}
