package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/technosupport/faceguard/internal/alerts"
)

const (
	DefaultBatchSize  = 100
	DefaultHistoryTTL = 7 * 24 * time.Hour

	flushInterval = 5 * time.Second
)

// Stats is the bus counter snapshot.
type Stats struct {
	Published       int64 `json:"published"`
	PublishErrors   int64 `json:"publish_errors"`
	LastSubscribers int64 `json:"last_subscribers"`
	HistoryAppended int64 `json:"history_appended"`
	BatchPending    int   `json:"batch_pending"`
}

// Bus publishes recognition events over Redis pub/sub. Publishing is
// fire-and-forget; zero subscribers is normal. With persistence enabled,
// events are batched and appended to a per-channel history list under a TTL.
type Bus struct {
	rdb        *redis.Client
	channel    string
	persist    bool
	batchSize  int
	historyTTL time.Duration

	mu    sync.Mutex
	batch []string
	stats Stats

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type BusOption func(*Bus)

func WithPersistence(batchSize int, ttl time.Duration) BusOption {
	return func(b *Bus) {
		b.persist = true
		if batchSize > 0 {
			b.batchSize = batchSize
		}
		if ttl > 0 {
			b.historyTTL = ttl
		}
	}
}

func NewBus(rdb *redis.Client, channel string, opts ...BusOption) *Bus {
	b := &Bus{
		rdb:        rdb,
		channel:    channel,
		batchSize:  DefaultBatchSize,
		historyTTL: DefaultHistoryTTL,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.flusher()
	return b
}

func (b *Bus) historyKey() string {
	return "faceguard:events:history:" + b.channel
}

// Publish sends one event to the channel and returns the subscriber count.
// When persistence is on, the event is also queued for the history list.
func (b *Bus) Publish(ctx context.Context, ev *RecognitionEvent) (int64, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("marshal event: %w", err)
	}

	subscribers, err := b.rdb.Publish(ctx, b.channel, data).Result()
	b.mu.Lock()
	if err != nil {
		b.stats.PublishErrors++
	} else {
		b.stats.Published++
		b.stats.LastSubscribers = subscribers
	}

	var due []string
	if b.persist {
		b.batch = append(b.batch, string(data))
		if len(b.batch) >= b.batchSize {
			due = b.batch
			b.batch = nil
		}
	}
	b.mu.Unlock()

	if due != nil {
		b.appendHistory(ctx, due)
	}
	if err != nil {
		return 0, fmt.Errorf("publish to %s: %w", b.channel, err)
	}
	return subscribers, nil
}

// PublishAlertEvent implements alerts.LifecyclePublisher: lifecycle
// transitions ride the same bus on a derived channel.
func (b *Bus) PublishAlertEvent(ctx context.Context, event string, a *alerts.AlertInstance) {
	payload, err := json.Marshal(map[string]any{
		"event":     event,
		"alert_id":  a.ID.String(),
		"person_id": a.PersonID,
		"camera_id": a.CameraID,
		"priority":  string(a.Priority),
		"status":    string(a.Status),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := b.rdb.Publish(ctx, b.channel+".alerts", payload).Err(); err != nil {
		log.Printf("[WARN] Alert lifecycle publish failed: %v", err)
	}
}

// Flush forces any batched events into the history list.
func (b *Bus) Flush(ctx context.Context) {
	b.mu.Lock()
	due := b.batch
	b.batch = nil
	b.mu.Unlock()
	if len(due) > 0 {
		b.appendHistory(ctx, due)
	}
}

func (b *Bus) appendHistory(ctx context.Context, entries []string) {
	vals := make([]any, len(entries))
	for i, e := range entries {
		vals[i] = e
	}
	pipe := b.rdb.Pipeline()
	pipe.RPush(ctx, b.historyKey(), vals...)
	pipe.Expire(ctx, b.historyKey(), b.historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[ERROR] Event history append failed: %v", err)
		return
	}
	b.mu.Lock()
	b.stats.HistoryAppended += int64(len(entries))
	b.mu.Unlock()
}

// History returns up to limit most recent persisted events, oldest first.
func (b *Bus) History(ctx context.Context, limit int) ([]RecognitionEvent, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	raw, err := b.rdb.LRange(ctx, b.historyKey(), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("history read: %w", err)
	}
	out := make([]RecognitionEvent, 0, len(raw))
	for _, entry := range raw {
		var ev RecognitionEvent
		if err := json.Unmarshal([]byte(entry), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.BatchPending = len(b.batch)
	return s
}

func (b *Bus) flusher() {
	defer close(b.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			b.Flush(ctx)
			cancel()
		}
	}
}

// Close stops the background flusher and writes out any pending batch.
func (b *Bus) Close(ctx context.Context) {
	b.stopOnce.Do(func() { close(b.stop) })
	<-b.done
	b.Flush(ctx)
}
