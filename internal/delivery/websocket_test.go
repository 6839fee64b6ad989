package delivery

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHub struct {
	rooms  map[string][][]byte
	counts map[string]int
}

func newFakeHub() *fakeHub {
	return &fakeHub{rooms: make(map[string][][]byte), counts: make(map[string]int)}
}

func (f *fakeHub) Broadcast(room string, message []byte) {
	f.rooms[room] = append(f.rooms[room], message)
}

func (f *fakeHub) ClientCount(room string) int { return f.counts[room] }

func TestWebSocketSendBroadcastsEnvelope(t *testing.T) {
	hub := newFakeHub()
	sender := &WebSocketSender{Hub: hub}

	ch := &Channel{
		ID:        uuid.New(),
		Type:      TypeWebSocket,
		WebSocket: &WebSocketConfig{Room: "alerts"},
	}
	n := &Notification{
		AlertID:    uuid.New(),
		Priority:   "high",
		Message:    "Person detected: person-7 at cam-dock",
		PersonID:   "person-7",
		CameraID:   "cam-dock",
		Confidence: 0.88,
		Timestamp:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	_, err := sender.Send(context.Background(), ch, n)
	require.NoError(t, err)
	require.Len(t, hub.rooms["alerts"], 1)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(hub.rooms["alerts"][0], &msg))
	assert.Equal(t, "alert_notification", msg["type"])
	assert.Equal(t, n.AlertID.String(), msg["alert_id"])
	assert.Equal(t, "high", msg["priority"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, "person-7", data["person_id"])
	assert.InDelta(t, 0.88, data["confidence"], 1e-9)
}

func TestWebSocketSendDefaultsToDashboard(t *testing.T) {
	hub := newFakeHub()
	sender := &WebSocketSender{Hub: hub}
	ch := &Channel{ID: uuid.New(), Type: TypeWebSocket}

	_, err := sender.Send(context.Background(), ch, &Notification{AlertID: uuid.New(), Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Len(t, hub.rooms["dashboard"], 1)
}

func TestWebSocketSendZeroSubscribersIsSuccess(t *testing.T) {
	hub := newFakeHub()
	sender := &WebSocketSender{Hub: hub}
	ch := &Channel{ID: uuid.New(), Type: TypeWebSocket, WebSocket: &WebSocketConfig{Room: "system"}}

	_, err := sender.Send(context.Background(), ch, &Notification{AlertID: uuid.New(), Timestamp: time.Now()})
	assert.NoError(t, err)
}
