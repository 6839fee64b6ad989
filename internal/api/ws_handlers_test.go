package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/faceguard/internal/alerts"
	"github.com/technosupport/faceguard/internal/ws"
)

type fakeAcknowledger struct {
	lastID uuid.UUID
	err    error
}

func (f *fakeAcknowledger) Acknowledge(ctx context.Context, id uuid.UUID, by string) (*alerts.AlertInstance, error) {
	f.lastID = id
	if f.err != nil {
		return nil, f.err
	}
	return &alerts.AlertInstance{ID: id, Status: alerts.StatusAcknowledged}, nil
}

func newWSEnv(t *testing.T) (*httptest.Server, *fakeAcknowledger) {
	t.Helper()
	ack := &fakeAcknowledger{}
	h := &WSHandler{Hub: ws.NewHub(), Evaluator: ack}
	r := chi.NewRouter()
	h.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, ack
}

func wsDial(t *testing.T, srv *httptest.Server, room string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + room
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func wsRoundTrip(t *testing.T, conn *websocket.Conn, req map[string]any) map[string]any {
	t.Helper()
	require.NoError(t, conn.WriteJSON(req))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(msg, &resp))
	return resp
}

func TestWSUnknownRoomRejected(t *testing.T) {
	srv, _ := newWSEnv(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/backstage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestWSPing(t *testing.T) {
	srv, _ := newWSEnv(t)
	conn := wsDial(t, srv, "alerts")

	resp := wsRoundTrip(t, conn, map[string]any{"type": "ping"})
	assert.Equal(t, "pong", resp["type"])
}

func TestWSAcknowledgeAlert(t *testing.T) {
	srv, ack := newWSEnv(t)
	conn := wsDial(t, srv, "alerts")

	id := uuid.New()
	resp := wsRoundTrip(t, conn, map[string]any{
		"type":     "acknowledge_alert",
		"alert_id": id.String(),
	})
	assert.Equal(t, "ack_confirmed", resp["type"])
	assert.Equal(t, id.String(), resp["alert_id"])
	assert.Equal(t, "acknowledged", resp["status"])
	assert.Equal(t, id, ack.lastID)
}

func TestWSAcknowledgeBadID(t *testing.T) {
	srv, _ := newWSEnv(t)
	conn := wsDial(t, srv, "alerts")

	resp := wsRoundTrip(t, conn, map[string]any{
		"type":     "acknowledge_alert",
		"alert_id": "nope",
	})
	assert.Equal(t, "error", resp["type"])
}

func TestWSUnknownMessageType(t *testing.T) {
	srv, _ := newWSEnv(t)
	conn := wsDial(t, srv, "dashboard")

	resp := wsRoundTrip(t, conn, map[string]any{"type": "self_destruct"})
	assert.Equal(t, "error", resp["type"])
	assert.Equal(t, "unknown message type", resp["message"])
}
