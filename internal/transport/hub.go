// Package transport owns the WebSocket fan-out: per-room subscriber sets
// and the single-writer-per-connection discipline, generalized from the
// teacher's single shared client map to many independently-addressed
// rooms.
package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neo/debatematch_backend/internal/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	EnableCompression: true,
}

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
)

// Envelope is the wire shape of every message exchanged over the socket,
// in both directions: a named event plus an arbitrary JSON payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Conn is one subscriber's write path. Every write is serialized through
// writeMu, mirroring the teacher's "WriteJSON under a lock" rule for a
// single *websocket.Conn, since gorilla/websocket forbids concurrent
// writers on the same connection.
type Conn struct {
	id       string
	ws       *websocket.Conn
	writeMu  sync.Mutex
	roomID   string
	roomIDMu sync.RWMutex
}

func (c *Conn) setRoom(roomID string) {
	c.roomIDMu.Lock()
	c.roomID = roomID
	c.roomIDMu.Unlock()
}

func (c *Conn) currentRoom() string {
	c.roomIDMu.RLock()
	defer c.roomIDMu.RUnlock()
	return c.roomID
}

func (c *Conn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// Handler is invoked once per decoded inbound Envelope, on the
// connection's own read goroutine. The composition root supplies this to
// dispatch into room/match/session.
type Handler func(connID string, env Envelope)

// DisconnectHandler is invoked exactly once when a connection's read loop
// exits, so the composition root can release per-connection state (the
// session binding and in-flight dedupe tokens).
type DisconnectHandler func(connID string)

// Hub tracks every live connection and which room (if any) it is
// currently subscribed to. It implements session.Broadcaster; the
// session Coordinator wraps it to provide match.Broadcaster.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	rooms map[string]map[string]*Conn // roomID -> connID -> Conn

	onMessage    Handler
	onDisconnect DisconnectHandler
}

// New creates an empty Hub. onMessage and onDisconnect are wired once,
// at composition-root startup.
func New(onMessage Handler, onDisconnect DisconnectHandler) *Hub {
	return &Hub{
		conns:        make(map[string]*Conn),
		rooms:        make(map[string]map[string]*Conn),
		onMessage:    onMessage,
		onDisconnect: onDisconnect,
	}
}

// ServeWS upgrades an HTTP request to a WebSocket, registers the
// connection under connID, and blocks reading frames until the client
// disconnects or a read error occurs.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, connID string) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.LogTransportEvent("upgrade_failed", "", connID, map[string]interface{}{"error": err.Error()})
		return
	}
	defer ws.Close()

	conn := &Conn{id: connID, ws: ws}

	h.mu.Lock()
	h.conns[connID] = conn
	h.mu.Unlock()

	defer h.unregister(connID)

	ws.SetReadDeadline(time.Now().Add(readTimeout))

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.writeJSON(Envelope{Event: "ping"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.LogTransportEvent("read_error", conn.currentRoom(), connID, map[string]interface{}{"error": err.Error()})
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(readTimeout))

		if env.Event == "ping" {
			conn.writeJSON(Envelope{Event: "pong"})
			continue
		}

		if h.onMessage != nil {
			h.onMessage(connID, env)
		}
	}
}

func (h *Hub) unregister(connID string) {
	h.mu.Lock()
	conn, ok := h.conns[connID]
	if ok {
		delete(h.conns, connID)
		if conn.currentRoom() != "" {
			if set, ok := h.rooms[conn.currentRoom()]; ok {
				delete(set, connID)
				if len(set) == 0 {
					delete(h.rooms, conn.currentRoom())
				}
			}
		}
	}
	h.mu.Unlock()

	if h.onDisconnect != nil {
		h.onDisconnect(connID)
	}
}

// JoinRoomChannel subscribes connID to roomID's fan-out set, removing any
// prior room subscription first (a connection belongs to at most one
// room channel at a time).
func (h *Hub) JoinRoomChannel(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[connID]
	if !ok {
		return
	}

	if prev := conn.currentRoom(); prev != "" && prev != roomID {
		if set, ok := h.rooms[prev]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(h.rooms, prev)
			}
		}
	}

	conn.setRoom(roomID)
	set, ok := h.rooms[roomID]
	if !ok {
		set = make(map[string]*Conn)
		h.rooms[roomID] = set
	}
	set[connID] = conn
}

// LeaveRoomChannel removes connID from roomID's fan-out set without
// closing the connection.
func (h *Hub) LeaveRoomChannel(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn, ok := h.conns[connID]; ok && conn.currentRoom() == roomID {
		conn.setRoom("")
	}
	if set, ok := h.rooms[roomID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Broadcast sends event/payload to every connection subscribed to
// roomID. Part of session.Broadcaster.
func (h *Hub) Broadcast(roomID, event string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logging.LogTransportEvent("broadcast_marshal_failed", roomID, "", map[string]interface{}{"error": err.Error()})
		return
	}
	env := Envelope{Event: event, Payload: raw}

	h.mu.RLock()
	set := h.rooms[roomID]
	targets := make([]*Conn, 0, len(set))
	for _, c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.writeJSON(env); err != nil {
			logging.LogTransportEvent("write_failed", roomID, c.id, map[string]interface{}{"error": err.Error()})
		}
	}
}

// SendToConn sends event/payload to a single connection by its transport
// ID. The session Coordinator resolves a userID to its live connID
// before calling this, so the transport layer itself never needs to
// know about application-level user identity.
func (h *Hub) SendToConn(connID, event string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logging.LogTransportEvent("send_marshal_failed", "", connID, map[string]interface{}{"error": err.Error()})
		return
	}

	h.mu.RLock()
	conn, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	if err := conn.writeJSON(Envelope{Event: event, Payload: raw}); err != nil {
		logging.LogTransportEvent("write_failed", "", connID, map[string]interface{}{"error": err.Error()})
	}
}

// RoomSize returns how many connections are currently subscribed to
// roomID (used by tests and diagnostics).
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
