package ws

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotRegistered is returned by WriteTo for connections the hub no longer
// tracks.
var ErrNotRegistered = errors.New("ws: connection not registered")

// Rooms served by the hub. Unknown rooms are rejected at upgrade time.
var Rooms = map[string]bool{
	"alerts":        true,
	"notifications": true,
	"system":        true,
	"dashboard":     true,
}

const (
	writeWait = 10 * time.Second
	// replayDepth bounds the per-room history replayed to new subscribers.
	replayDepth = 100
)

// Hub tracks connections per room and keeps a capped replay queue so a
// client connecting mid-incident still sees recent messages. A per-connection
// mutex serializes writes: gorilla allows a single concurrent writer per
// connection, and broadcasts race with handler replies otherwise.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*websocket.Conn]bool
	writers map[*websocket.Conn]*sync.Mutex
	replay  map[string][][]byte
}

func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[*websocket.Conn]bool),
		writers: make(map[*websocket.Conn]*sync.Mutex),
		replay:  make(map[string][][]byte),
	}
}

// Register adds a connection to a room and replays buffered history to it,
// each message tagged queued:true, before any live message is sent.
func (h *Hub) Register(room string, conn *websocket.Conn) {
	h.mu.Lock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*websocket.Conn]bool)
	}
	h.rooms[room][conn] = true
	if h.writers[conn] == nil {
		h.writers[conn] = &sync.Mutex{}
	}
	backlog := make([][]byte, len(h.replay[room]))
	copy(backlog, h.replay[room])
	h.mu.Unlock()

	for _, msg := range backlog {
		if err := h.WriteTo(conn, appendQueuedFlag(msg)); err != nil {
			h.Unregister(room, conn)
			conn.Close()
			return
		}
	}
	log.Printf("[WS] Client joined room %s (replayed %d)", room, len(backlog))
}

func (h *Hub) Unregister(room string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[room]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, room)
		}
	}
	for _, conns := range h.rooms {
		if conns[conn] {
			return
		}
	}
	delete(h.writers, conn)
}

// WriteTo sends one message on a registered connection, holding its write
// lock for the duration. Handlers replying to client messages must use this
// rather than writing the connection directly.
func (h *Hub) WriteTo(conn *websocket.Conn, message []byte) error {
	h.mu.RLock()
	wmu := h.writers[conn]
	h.mu.RUnlock()
	if wmu == nil {
		return ErrNotRegistered
	}
	wmu.Lock()
	defer wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, message)
}

// Broadcast sends message to every connection in the room, evicting
// connections whose send fails, and appends it to the replay queue.
func (h *Hub) Broadcast(room string, message []byte) {
	h.mu.Lock()
	q := append(h.replay[room], message)
	if len(q) > replayDepth {
		q = q[len(q)-replayDepth:]
	}
	h.replay[room] = q

	conns := make([]*websocket.Conn, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		if err := h.WriteTo(conn, message); err != nil {
			log.Printf("[WS] Send failed in room %s, dropping client: %v", room, err)
			h.Unregister(room, conn)
			conn.Close()
		}
	}
}

func (h *Hub) ClientCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) ReplayLen(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.replay[room])
}

// appendQueuedFlag marks a JSON object message as replayed history. The
// message is known to be a JSON object because the hub only ever broadcasts
// marshaled envelopes.
func appendQueuedFlag(msg []byte) []byte {
	if len(msg) < 2 || msg[len(msg)-1] != '}' {
		return msg
	}
	out := make([]byte, 0, len(msg)+16)
	out = append(out, msg[:len(msg)-1]...)
	if len(msg) > 2 {
		out = append(out, ',')
	}
	out = append(out, []byte(`"queued":true}`)...)
	return out
}
