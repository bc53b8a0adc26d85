// Package room owns the set of active rooms: membership, role/position
// negotiation, and readiness, following the mutex-guarded-map idiom the
// rest of this codebase uses for shared process-wide registries (the
// session Coordinator's connection map, the request Deduper).
package room

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/neo/debatematch_backend/internal/logging"
	"github.com/neo/debatematch_backend/internal/store"
	"github.com/neo/debatematch_backend/internal/types"
)

// Participant is one user's membership record within a room.
type Participant struct {
	ConnectionID        string
	UserID              string
	DisplayName         string
	Role                types.Role
	Position            types.Position
	IsReady             bool
	DiscussionViewReady bool
	RatingSnapshot      float64
	WinsSnapshot        int
	LossesSnapshot      int
}

// Room is one debate's lobby and, once started, its match container.
type Room struct {
	RoomID        string
	Subject       store.Subject
	Participants  []*Participant
	BattleStarted bool
	IsCompleted   bool
	HasReferee    bool
}

func (r *Room) findParticipant(userID string) *Participant {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (r *Room) playerCount() int {
	n := 0
	for _, p := range r.Participants {
		if p.Role == types.RolePlayer {
			n++
		}
	}
	return n
}

func (r *Room) refreshHasReferee() {
	for _, p := range r.Participants {
		if p.Role == types.RoleReferee {
			r.HasReferee = true
			return
		}
	}
	r.HasReferee = false
}

// ReadyPlayers returns the Participants with Role=Player and IsReady=true.
func (r *Room) ReadyPlayers() []*Participant {
	var ready []*Participant
	for _, p := range r.Participants {
		if p.Role == types.RolePlayer && p.IsReady {
			ready = append(ready, p)
		}
	}
	return ready
}

var (
	ErrRoomNotFound    = fmt.Errorf("room: not found")
	ErrBattleStarted   = fmt.Errorf("room: battle already started")
	ErrRefereeNotAdmin = fmt.Errorf("room: referee role requires admin")
	ErrNotAPlayer      = fmt.Errorf("room: position can only be selected by a player")
)

// Registry is the process-wide set of active rooms. Every mutating
// operation takes and releases the lock for the duration of one in-memory
// update only; it never holds the lock across a Store Gateway or Judge
// Client call.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// CreateRoom builds a new room around subject, with the creator attached
// as Referee if isAdmin, otherwise as the first Player.
func (reg *Registry) CreateRoom(creatorUserID, displayName string, isAdmin bool, subject store.Subject, profile *store.Profile) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	role := types.RolePlayer
	if isAdmin {
		role = types.RoleReferee
	}

	r := &Room{
		RoomID:  uuid.NewString(),
		Subject: subject,
	}
	p := &Participant{
		UserID:         creatorUserID,
		DisplayName:    displayName,
		Role:           role,
		RatingSnapshot: profile.Rating,
		WinsSnapshot:   profile.Wins,
		LossesSnapshot: profile.Loses,
	}
	r.Participants = append(r.Participants, p)
	r.refreshHasReferee()

	reg.rooms[r.RoomID] = r
	logging.LogRoomEvent("room_created", r.RoomID, map[string]interface{}{"creator": creatorUserID, "role": role.String()})
	return r
}

// JoinRoom adds userID to roomID as a Player (if fewer than two Players
// are present) or a Spectator otherwise. A user already present only has
// their ConnectionID refreshed.
func (reg *Registry) JoinRoom(roomID, connectionID, userID, displayName string, profile *store.Profile) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if r.BattleStarted {
		return nil, ErrBattleStarted
	}

	if existing := r.findParticipant(userID); existing != nil {
		existing.ConnectionID = connectionID
		return r, nil
	}

	role := types.RoleSpectator
	if r.playerCount() < 2 {
		role = types.RolePlayer
	}

	p := &Participant{
		ConnectionID:   connectionID,
		UserID:         userID,
		DisplayName:    displayName,
		Role:           role,
		RatingSnapshot: profile.Rating,
		WinsSnapshot:   profile.Wins,
		LossesSnapshot: profile.Loses,
	}
	r.Participants = append(r.Participants, p)
	r.refreshHasReferee()

	logging.LogRoomEvent("room_joined", roomID, map[string]interface{}{"user_id": userID, "role": role.String()})
	return r, nil
}

// SelectRole changes userID's role within roomID. Selecting Referee
// requires isAdmin. Changing role resets position and readiness.
func (reg *Registry) SelectRole(roomID, userID string, role types.Role, isAdmin bool) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	p := r.findParticipant(userID)
	if p == nil {
		return nil, ErrRoomNotFound
	}
	if role == types.RoleReferee && !isAdmin {
		return nil, ErrRefereeNotAdmin
	}

	p.Role = role
	p.Position = types.PositionUnset
	p.IsReady = false
	r.refreshHasReferee()

	logging.LogRoomEvent("role_selected", roomID, map[string]interface{}{"user_id": userID, "role": role.String()})
	return r, nil
}

// SelectPosition sets userID's debate position. Only Players may hold a
// position; selecting the currently-held position clears it.
func (reg *Registry) SelectPosition(roomID, userID string, position types.Position) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	p := r.findParticipant(userID)
	if p == nil {
		return nil, ErrRoomNotFound
	}
	if p.Role != types.RolePlayer {
		return nil, ErrNotAPlayer
	}

	if p.Position == position {
		p.Position = types.PositionUnset
	} else {
		p.Position = position
	}

	return r, nil
}

// ToggleReady flips userID's IsReady flag. If at least two Players are
// ready afterward, BattleStarted is set (idempotently) and reported via
// the bool return.
func (reg *Registry) ToggleReady(roomID, userID string) (room *Room, justStarted bool, err error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return nil, false, ErrRoomNotFound
	}
	p := r.findParticipant(userID)
	if p == nil {
		return nil, false, ErrRoomNotFound
	}

	p.IsReady = !p.IsReady

	if !r.BattleStarted && len(r.ReadyPlayers()) >= 2 {
		r.BattleStarted = true
		justStarted = true
		fillPositions(r.ReadyPlayers())
		logging.LogRoomEvent("battle_started", roomID, nil)
	}

	return r, justStarted, nil
}

// fillPositions resolves the two starting Players' debate positions: if
// one already has a position, the other gets its complement; if neither
// does, the first-added Player becomes Agree and the second Disagree.
func fillPositions(players []*Participant) {
	if len(players) != 2 {
		return
	}
	first, second := players[0], players[1]
	switch {
	case first.Position != types.PositionUnset:
		second.Position = first.Position.Opposite()
	case second.Position != types.PositionUnset:
		first.Position = second.Position.Opposite()
	default:
		first.Position = types.PositionAgree
		second.Position = types.PositionDisagree
	}
}

// MarkDiscussionViewReady flips userID's DiscussionViewReady flag on,
// mirroring the match-internal readiness the Match State Machine tracks
// for its own phase 0 -> 1 gate so the room roster sent to clients
// reflects the same fact (spec: Participant.discussionViewReady).
func (reg *Registry) MarkDiscussionViewReady(roomID, userID string) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	p := r.findParticipant(userID)
	if p == nil {
		return nil, ErrRoomNotFound
	}

	p.DiscussionViewReady = true
	return r, nil
}

// LeaveRoom removes userID from roomID. If the room becomes empty it is
// deleted and emptied is true; otherwise every remaining participant's
// readiness is reset.
func (reg *Registry) LeaveRoom(roomID, userID string) (room *Room, emptied bool, err error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return nil, false, ErrRoomNotFound
	}

	for i, p := range r.Participants {
		if p.UserID == userID {
			r.Participants = append(r.Participants[:i], r.Participants[i+1:]...)
			break
		}
	}

	if len(r.Participants) == 0 {
		delete(reg.rooms, roomID)
		logging.LogRoomEvent("room_deleted", roomID, nil)
		return r, true, nil
	}

	for _, p := range r.Participants {
		p.IsReady = false
	}
	r.refreshHasReferee()

	logging.LogRoomEvent("room_left", roomID, map[string]interface{}{"user_id": userID})
	return r, false, nil
}

// Get returns the room by ID, if any.
func (reg *Registry) Get(roomID string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	return r, ok
}

// List returns every currently active room (for get_rooms).
func (reg *Registry) List() []*Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	out := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, r)
	}
	return out
}

// FindByUser returns the room userID currently occupies, if any (for
// get_my_room).
func (reg *Registry) FindByUser(userID string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for _, r := range reg.rooms {
		if r.findParticipant(userID) != nil {
			return r, true
		}
	}
	return nil, false
}
