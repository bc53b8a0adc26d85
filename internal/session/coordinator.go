// Package session binds transport connections to asserted user
// identities and assembles the consolidated resync snapshot a
// reconnecting client needs, generalizing the teacher's single
// connection-to-player-ID map (internal/server.Server.clients) to a
// per-connection binding that survives reconnects across many rooms.
package session

import (
	"sync"
	"time"

	"github.com/neo/debatematch_backend/internal/logging"
	"github.com/neo/debatematch_backend/internal/match"
	"github.com/neo/debatematch_backend/internal/msglog"
	"github.com/neo/debatematch_backend/internal/room"
)

const snapshotTimeout = 300 * time.Millisecond

// Broadcaster is the fan-out surface the Coordinator needs from the
// transport layer: room-scoped broadcast plus a direct send by
// connection ID.
type Broadcaster interface {
	Broadcast(roomID, event string, payload interface{})
	SendToConn(connID, event string, payload interface{})
}

// Coordinator maps connectionID -> userID and rebinds that mapping on
// join_discussion_room, so a reconnecting client's new WebSocket
// connection picks up its existing room membership and match state.
type Coordinator struct {
	mu          sync.RWMutex
	connToUser  map[string]string
	userToConn  map[string]string
	broadcaster Broadcaster
}

func New(broadcaster Broadcaster) *Coordinator {
	return &Coordinator{
		connToUser: make(map[string]string),
		userToConn: make(map[string]string),
		broadcaster: broadcaster,
	}
}

// Bind associates connID with userID, rebinding any previous connection
// that userID held (the stale connection is left to time out on its own
// read deadline; this package never closes a socket it doesn't own).
func (c *Coordinator) Bind(connID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prevConn, ok := c.userToConn[userID]; ok && prevConn != connID {
		delete(c.connToUser, prevConn)
	}
	c.connToUser[connID] = userID
	c.userToConn[userID] = connID

	logging.LogTransportEvent("session_bound", "", connID, map[string]interface{}{"user_id": userID})
}

// Unbind removes connID's binding (called on disconnect).
func (c *Coordinator) Unbind(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	userID, ok := c.connToUser[connID]
	if !ok {
		return
	}
	delete(c.connToUser, connID)
	if c.userToConn[userID] == connID {
		delete(c.userToConn, userID)
	}
}

// UserID returns the userID bound to connID, if any.
func (c *Coordinator) UserID(connID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	userID, ok := c.connToUser[connID]
	return userID, ok
}

// ConnID returns the connection currently bound to userID, if any.
func (c *Coordinator) ConnID(userID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	connID, ok := c.userToConn[userID]
	return connID, ok
}

// Broadcast satisfies match.Broadcaster by delegating straight to the
// transport layer (room-scoped sends never need identity resolution).
func (c *Coordinator) Broadcast(roomID, event string, payload interface{}) {
	c.broadcaster.Broadcast(roomID, event, payload)
}

// SendToUser satisfies match.Broadcaster by resolving userID to its
// current connection before delegating to the transport layer. A
// target with no live connection (disconnected, not yet reconnected)
// silently drops the send, same as any other at-most-once targeted
// event.
func (c *Coordinator) SendToUser(roomID, userID, event string, payload interface{}) {
	connID, ok := c.ConnID(userID)
	if !ok {
		return
	}
	c.broadcaster.SendToConn(connID, event, payload)
}

var _ match.Broadcaster = (*Coordinator)(nil)

// Snapshot is the consolidated resync view handed back on
// join_discussion_room / reconnect, per spec §4.J: phase, turn, messages,
// the active speaker's live timer budget, and the caller's and
// opponent's penalty counts.
type Snapshot struct {
	RoomID              string
	Phase               int
	StageDescription    string
	CurrentPlayerUserID string
	IsCallerTurn        bool
	Messages            []msglog.Message
	Participants        []*room.Participant
	Exists              bool

	RoundTimeRemainingSec int
	TotalTimeRemainingSec int
	OvertimeRemainingSec  int
	IsOvertime            bool

	CallerPenaltyPoints   int
	OpponentPenaltyPoints int
}

// BuildSnapshot assembles the resync payload for userID in roomID. If no
// match is running for the room (pre-battle lobby, or a room that has
// already torn down), it returns a snapshot with Exists=false and the
// caller falls back to the room's lobby state alone.
func BuildSnapshot(r *room.Room, m *match.Match, userID string) Snapshot {
	snap := Snapshot{RoomID: r.RoomID, Participants: r.Participants}

	if m == nil {
		return snap
	}

	done := make(chan match.Snapshot, 1)
	m.Snapshot(userID, done)

	select {
	case ms := <-done:
		snap.Exists = true
		snap.Phase = ms.Phase
		snap.StageDescription = ms.StageDescription
		snap.CurrentPlayerUserID = ms.CurrentPlayerID
		snap.IsCallerTurn = ms.CurrentPlayerID == userID
		snap.Messages = ms.Messages
		snap.RoundTimeRemainingSec = ms.RoundTimeRemainingSec
		snap.TotalTimeRemainingSec = ms.TotalTimeRemainingSec
		snap.OvertimeRemainingSec = ms.OvertimeRemainingSec
		snap.IsOvertime = ms.IsOvertime
		snap.CallerPenaltyPoints = ms.CallerPenaltyPoints
		snap.OpponentPenaltyPoints = ms.OpponentPenaltyPoints
	case <-time.After(snapshotTimeout):
		// The match's mailbox is gone (mid-teardown); report lobby-only.
	}

	return snap
}
