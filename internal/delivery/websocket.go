package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RoomBroadcaster is the dashboard fan-out surface. Implemented by ws.Hub.
type RoomBroadcaster interface {
	Broadcast(room string, message []byte)
	ClientCount(room string) int
}

// WebSocketSender broadcasts alert messages to a dashboard room. Broadcast
// is best-effort by design: zero subscribers is still a successful send.
type WebSocketSender struct {
	Hub RoomBroadcaster
}

func (w *WebSocketSender) Send(ctx context.Context, ch *Channel, n *Notification) (string, error) {
	if w.Hub == nil {
		return "", fmt.Errorf("channel %s: no hub wired", ch.ID)
	}
	room := "dashboard"
	if ch.WebSocket != nil && ch.WebSocket.Room != "" {
		room = ch.WebSocket.Room
	}

	msg := map[string]any{
		"type":      "alert_notification",
		"alert_id":  n.AlertID.String(),
		"timestamp": n.Timestamp.UTC().Format(time.RFC3339),
		"priority":  n.Priority,
		"data": map[string]any{
			"message":    n.Message,
			"person_id":  n.PersonID,
			"camera_id":  n.CameraID,
			"confidence": n.Confidence,
		},
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	w.Hub.Broadcast(room, raw)
	return "", nil
}
