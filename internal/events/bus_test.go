package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/faceguard/internal/alerts"
)

func busFixture(t *testing.T, opts ...BusOption) (*Bus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	b := NewBus(rdb, "recognition_events", opts...)
	t.Cleanup(func() { b.Close(context.Background()) })
	return b, mr
}

func testEvent(cameraID string) *RecognitionEvent {
	return &RecognitionEvent{
		EventID:        uuid.New(),
		EventType:      EventTypeRecognition,
		ServiceVersion: "1.0.0",
		Timestamp:      time.Now().UTC(),
		CameraID:       cameraID,
		FrameID:        uuid.New(),
		PersonsDetected: []DetectedPerson{
			{PersonID: "person-1", Confidence: 0.91},
			{Confidence: 0.55},
		},
		ProcessingTimeMs:      41.5,
		ConfidenceThreshold:   0.6,
		RecognitionSuccessful: true,
	}
}

func TestPublishFireAndForget(t *testing.T) {
	b, _ := busFixture(t)

	subs, err := b.Publish(context.Background(), testEvent("cam-1"))
	require.NoError(t, err)
	assert.Zero(t, subs, "zero subscribers is not an error")

	stats := b.Stats()
	assert.Equal(t, int64(1), stats.Published)
	assert.Zero(t, stats.BatchPending, "persistence disabled, nothing queued")
}

func TestPublishBatchesHistoryAtBatchSize(t *testing.T) {
	b, mr := busFixture(t, WithPersistence(3, time.Hour))
	ctx := context.Background()

	b.Publish(ctx, testEvent("cam-1"))
	b.Publish(ctx, testEvent("cam-1"))
	assert.False(t, mr.Exists("faceguard:events:history:recognition_events"),
		"history must not be written before the batch fills")
	assert.Equal(t, 2, b.Stats().BatchPending)

	b.Publish(ctx, testEvent("cam-1"))

	key := "faceguard:events:history:recognition_events"
	require.True(t, mr.Exists(key))
	entries, err := mr.List(key)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Zero(t, b.Stats().BatchPending)
	assert.Greater(t, mr.TTL(key), time.Duration(0), "history list must carry a TTL")
}

func TestFlushWritesPartialBatch(t *testing.T) {
	b, mr := busFixture(t, WithPersistence(100, time.Hour))
	ctx := context.Background()

	b.Publish(ctx, testEvent("cam-2"))
	b.Flush(ctx)

	entries, err := mr.List("faceguard:events:history:recognition_events")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestHistoryReturnsDecodedEvents(t *testing.T) {
	b, _ := busFixture(t, WithPersistence(1, time.Hour))
	ctx := context.Background()

	first := testEvent("cam-1")
	second := testEvent("cam-2")
	b.Publish(ctx, first)
	b.Publish(ctx, second)

	events, err := b.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, first.EventID, events[0].EventID)
	assert.Equal(t, "cam-2", events[1].CameraID)

	// Limit trims from the old end.
	events, err = b.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, second.EventID, events[0].EventID)
}

func TestPublishAlertEvent(t *testing.T) {
	b, mr := busFixture(t)

	a := &alerts.AlertInstance{
		ID:       uuid.New(),
		PersonID: "person-1",
		CameraID: "cam-1",
		Priority: alerts.PriorityHigh,
		Status:   alerts.StatusActive,
	}

	done := make(chan string, 1)
	subClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer subClient.Close()
	sub := subClient.Subscribe(context.Background(), "recognition_events.alerts")
	defer sub.Close()
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)
	go func() {
		msg, err := sub.ReceiveMessage(context.Background())
		if err == nil {
			done <- msg.Payload
		}
	}()

	b.PublishAlertEvent(context.Background(), "triggered", a)

	select {
	case payload := <-done:
		var got map[string]any
		require.NoError(t, json.Unmarshal([]byte(payload), &got))
		assert.Equal(t, "triggered", got["event"])
		assert.Equal(t, a.ID.String(), got["alert_id"])
		assert.Equal(t, "high", got["priority"])
	case <-time.After(2 * time.Second):
		t.Fatal("no lifecycle message received")
	}
}
