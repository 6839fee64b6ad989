package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/technosupport/faceguard/internal/alerts"
	"github.com/technosupport/faceguard/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards connect cross-origin; auth happens at the edge.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Acknowledger is the slice of the evaluator the WS handler needs.
type Acknowledger interface {
	Acknowledge(ctx context.Context, id uuid.UUID, by string) (*alerts.AlertInstance, error)
}

// WSHandler upgrades /ws/{room} connections and services client messages.
type WSHandler struct {
	Hub       *ws.Hub
	Evaluator Acknowledger
}

func (h *WSHandler) Register(r chi.Router) {
	r.Get("/ws/{room}", h.Serve)
}

// Serve upgrades the connection, replays buffered history, then loops on
// client messages until the peer goes away.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	if !ws.Rooms[room] {
		respondError(w, http.StatusNotFound, "not_found", "unknown room")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed for room %s: %v", room, err)
		return
	}

	h.Hub.Register(room, conn)
	defer func() {
		h.Hub.Unregister(room, conn)
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleMessage(r.Context(), room, conn, msg)
	}
}

func (h *WSHandler) handleMessage(ctx context.Context, room string, conn *websocket.Conn, msg []byte) {
	var req struct {
		Type    string `json:"type"`
		AlertID string `json:"alert_id"`
	}
	if err := json.Unmarshal(msg, &req); err != nil {
		h.reply(conn, map[string]any{"type": "error", "message": "invalid message"})
		return
	}

	switch req.Type {
	case "ping":
		h.reply(conn, map[string]any{"type": "pong", "timestamp": time.Now().UTC()})

	case "acknowledge_alert":
		id, err := uuid.Parse(req.AlertID)
		if err != nil {
			h.reply(conn, map[string]any{"type": "error", "message": "invalid alert_id"})
			return
		}
		// Acknowledge broadcasts alert_acknowledged to the alerts room
		// through the evaluator's hub hookup.
		alert, err := h.Evaluator.Acknowledge(ctx, id, "websocket")
		if err != nil {
			h.reply(conn, map[string]any{"type": "error", "message": err.Error()})
			return
		}
		h.reply(conn, map[string]any{
			"type":     "ack_confirmed",
			"alert_id": alert.ID,
			"status":   alert.Status,
		})

	default:
		h.reply(conn, map[string]any{"type": "error", "message": "unknown message type"})
	}
}

// reply goes through the hub so it holds the connection's write lock;
// broadcasts from the evaluator land on the same connections concurrently.
func (h *WSHandler) reply(conn *websocket.Conn, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := h.Hub.WriteTo(conn, body); err != nil {
		log.Printf("[WS] Reply failed: %v", err)
	}
}
