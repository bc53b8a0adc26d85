package server

import (
	"encoding/json"

	"github.com/neo/debatematch_backend/internal/errkind"
	"github.com/neo/debatematch_backend/internal/logging"
	"github.com/neo/debatematch_backend/internal/match"
	"github.com/neo/debatematch_backend/internal/room"
	"github.com/neo/debatematch_backend/internal/session"
	"github.com/neo/debatematch_backend/internal/store"
	"github.com/neo/debatematch_backend/internal/transport"
	"github.com/neo/debatematch_backend/internal/types"
)

// handleEnvelope is the single entry point wired into transport.Hub. It
// runs on the connection's read goroutine and may wait on Store Gateway
// lookups or on a match snapshot; Registry locks are never held across
// those calls, and Match mutation happens on the match's own mailbox
// goroutine.
func (s *Server) handleEnvelope(connID string, env transport.Envelope) {
	switch env.Event {
	case "get_subjects":
		s.onGetSubjects(connID)
	case "get_rooms":
		s.onGetRooms(connID)
	case "get_my_room":
		s.onGetMyRoom(connID, env.Payload)
	case "get_user_profile":
		s.onGetUserProfile(connID, env.Payload)
	case "create_room":
		s.onCreateRoom(connID, env.Payload)
	case "join_room":
		s.onJoinRoom(connID, env.Payload)
	case "leave_room":
		s.onLeaveRoom(connID, env.Payload)
	case "select_role":
		s.onSelectRole(connID, env.Payload)
	case "select_position":
		s.onSelectPosition(connID, env.Payload)
	case "player_ready":
		s.onPlayerReady(connID, env.Payload)
	case "join_discussion_room":
		s.onJoinDiscussionRoom(connID, env.Payload)
	case "discussion_view_ready":
		s.onDiscussionViewReady(connID, env.Payload)
	case "send_message":
		s.onSendMessage(connID, env.Payload)
	case "time_overflow":
		// The Timer Engine is authoritative and fires its own overflow
		// handling; a client-reported overflow is accepted for telemetry
		// only and never mutates match state.
		logging.LogTransportEvent("time_overflow_reported", "", connID, nil)
	case "get_messages":
		s.onGetMessages(connID, env.Payload)
	case "get_room_state":
		s.onGetRoomState(connID, env.Payload)
	case "referee_add_points":
		s.onRefereeAction(connID, env.Payload, "referee_add_points")
	case "referee_deduct_points":
		s.onRefereeAction(connID, env.Payload, "referee_deduct_points")
	case "referee_extend_time":
		s.onRefereeAction(connID, env.Payload, "referee_extend_time")
	case "referee_reduce_time":
		s.onRefereeAction(connID, env.Payload, "referee_reduce_time")
	case "referee_submit_scores":
		s.onRefereeSubmitScores(connID, env.Payload)
	default:
		s.sendError(connID, errkind.BadRequest, "unknown event: "+env.Event)
	}
}

func (s *Server) sendError(connID string, kind errkind.Kind, message string) {
	s.hub.SendToConn(connID, "error", view{"kind": string(kind), "message": message})
}

func decode(raw json.RawMessage, v interface{}) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

func (s *Server) bind(connID, userID string) {
	if userID == "" {
		return
	}
	s.coord.Bind(connID, userID)
}

// --- Read-only queries ---

func (s *Server) onGetSubjects(connID string) {
	subjects, err := store.Subjects(s.gateway)
	if err != nil {
		s.sendError(connID, errkind.StoreTransient, "could not load subjects")
		return
	}
	s.hub.SendToConn(connID, "get_subjects", view{"subjects": subjectsView(subjects)})
}

func (s *Server) onGetRooms(connID string) {
	s.hub.SendToConn(connID, "rooms_update", view{"rooms": roomsView(s.registry.List())})
}

type userIDPayload struct {
	UserID string `json:"userId"`
}

func (s *Server) onGetMyRoom(connID string, raw json.RawMessage) {
	var p userIDPayload
	if !decode(raw, &p) {
		s.sendError(connID, errkind.BadRequest, "missing userId")
		return
	}
	s.bind(connID, p.UserID)

	r, ok := s.registry.FindByUser(p.UserID)
	if !ok {
		s.hub.SendToConn(connID, "get_my_room", view{"room": nil})
		return
	}
	s.hub.SendToConn(connID, "get_my_room", view{"room": roomView(r)})
}

func (s *Server) onGetUserProfile(connID string, raw json.RawMessage) {
	var p userIDPayload
	if !decode(raw, &p) {
		s.sendError(connID, errkind.BadRequest, "missing userId")
		return
	}
	profile, err := s.gateway.GetProfile(p.UserID)
	if err != nil {
		s.sendError(connID, errkind.NotFound, "profile not found")
		return
	}
	s.hub.SendToConn(connID, "get_user_profile", view{"profile": profileView(profile)})
}

// --- Room lifecycle ---

type createRoomPayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	SubjectID   string `json:"subjectId"`
	IsAdmin     bool   `json:"isAdmin"`
}

func (s *Server) onCreateRoom(connID string, raw json.RawMessage) {
	var p createRoomPayload
	if !decode(raw, &p) || p.UserID == "" || p.SubjectID == "" {
		s.sendError(connID, errkind.BadRequest, "missing userId or subjectId")
		return
	}
	if !s.dedup.Begin(connID, "create_room") {
		s.sendError(connID, errkind.Conflict, "create_room already in flight")
		return
	}
	defer s.dedup.End(connID, "create_room")

	subject, err := s.gateway.GetSubject(p.SubjectID)
	if err != nil {
		s.sendError(connID, errkind.NotFound, "unknown subject")
		return
	}
	profile, err := s.gateway.GetProfile(p.UserID)
	if err != nil {
		s.sendError(connID, errkind.NotFound, "unknown profile")
		return
	}

	s.bind(connID, p.UserID)
	r := s.registry.CreateRoom(p.UserID, p.DisplayName, p.IsAdmin && profile.IsAdmin, *subject, profile)
	s.hub.JoinRoomChannel(connID, r.RoomID)

	s.hub.SendToConn(connID, "create_room", view{"room": roomView(r)})
	s.coord.Broadcast(r.RoomID, "room_update", roomView(r))
	s.hub.SendToConn(connID, "rooms_update", view{"rooms": roomsView(s.registry.List())})
}

type joinRoomPayload struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

func (s *Server) onJoinRoom(connID string, raw json.RawMessage) {
	var p joinRoomPayload
	if !decode(raw, &p) || p.RoomID == "" || p.UserID == "" {
		s.sendError(connID, errkind.BadRequest, "missing roomId or userId")
		return
	}
	if !s.dedup.Begin(connID, "join_room") {
		s.sendError(connID, errkind.Conflict, "join_room already in flight")
		return
	}
	defer s.dedup.End(connID, "join_room")

	profile, err := s.gateway.GetProfile(p.UserID)
	if err != nil {
		s.sendError(connID, errkind.NotFound, "unknown profile")
		return
	}

	r, err := s.registry.JoinRoom(p.RoomID, connID, p.UserID, p.DisplayName, profile)
	if err != nil {
		s.sendError(connID, errkindForRoomErr(err), err.Error())
		return
	}

	s.bind(connID, p.UserID)
	s.hub.JoinRoomChannel(connID, r.RoomID)

	s.hub.SendToConn(connID, "join_room", view{"room": roomView(r)})
	s.coord.Broadcast(r.RoomID, "room_update", roomView(r))
}

func (s *Server) onLeaveRoom(connID string, raw json.RawMessage) {
	var p joinRoomPayload
	if !decode(raw, &p) || p.RoomID == "" || p.UserID == "" {
		s.sendError(connID, errkind.BadRequest, "missing roomId or userId")
		return
	}

	r, emptied, err := s.registry.LeaveRoom(p.RoomID, p.UserID)
	if err != nil {
		s.sendError(connID, errkindForRoomErr(err), err.Error())
		return
	}

	s.hub.LeaveRoomChannel(connID, p.RoomID)
	if !emptied {
		s.coord.Broadcast(p.RoomID, "room_update", roomView(r))
	}
}

type roleSelectPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

func (s *Server) onSelectRole(connID string, raw json.RawMessage) {
	var p roleSelectPayload
	if !decode(raw, &p) {
		s.sendError(connID, errkind.BadRequest, "malformed select_role")
		return
	}
	profile, err := s.gateway.GetProfile(p.UserID)
	if err != nil {
		s.sendError(connID, errkind.NotFound, "unknown profile")
		return
	}

	r, err := s.registry.SelectRole(p.RoomID, p.UserID, types.Role(p.Role), profile.IsAdmin)
	if err != nil {
		s.sendError(connID, errkindForRoomErr(err), err.Error())
		return
	}
	s.coord.Broadcast(p.RoomID, "role_selected", view{"userId": p.UserID, "role": p.Role})
	s.coord.Broadcast(p.RoomID, "room_update", roomView(r))
}

type positionSelectPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Position string `json:"position"`
}

func (s *Server) onSelectPosition(connID string, raw json.RawMessage) {
	var p positionSelectPayload
	if !decode(raw, &p) {
		s.sendError(connID, errkind.BadRequest, "malformed select_position")
		return
	}

	r, err := s.registry.SelectPosition(p.RoomID, p.UserID, types.Position(p.Position))
	if err != nil {
		s.sendError(connID, errkindForRoomErr(err), err.Error())
		return
	}
	s.coord.Broadcast(p.RoomID, "position_selected", view{"userId": p.UserID, "position": p.Position})
	s.coord.Broadcast(p.RoomID, "room_update", roomView(r))
}

func (s *Server) onPlayerReady(connID string, raw json.RawMessage) {
	var p joinRoomPayload
	if !decode(raw, &p) {
		s.sendError(connID, errkind.BadRequest, "malformed player_ready")
		return
	}
	if !s.dedup.Begin(connID, "player_ready") {
		s.sendError(connID, errkind.Conflict, "player_ready already in flight")
		return
	}
	defer s.dedup.End(connID, "player_ready")

	r, justStarted, err := s.registry.ToggleReady(p.RoomID, p.UserID)
	if err != nil {
		s.sendError(connID, errkindForRoomErr(err), err.Error())
		return
	}

	s.coord.Broadcast(p.RoomID, "room_update", roomView(r))
	if justStarted {
		s.startMatch(r)
	}
}

func (s *Server) onJoinDiscussionRoom(connID string, raw json.RawMessage) {
	var p joinRoomPayload
	if !decode(raw, &p) {
		s.sendError(connID, errkind.BadRequest, "malformed join_discussion_room")
		return
	}
	s.bind(connID, p.UserID)
	s.hub.JoinRoomChannel(connID, p.RoomID)

	r, ok := s.registry.Get(p.RoomID)
	if !ok {
		s.sendError(connID, errkind.NotFound, "unknown room")
		return
	}
	m, _ := s.matchFor(p.RoomID)
	snap := session.BuildSnapshot(r, m, p.UserID)
	s.hub.SendToConn(connID, "room_state_updated", snapshotView(snap))
}

func (s *Server) onDiscussionViewReady(connID string, raw json.RawMessage) {
	var p joinRoomPayload
	if !decode(raw, &p) {
		s.sendError(connID, errkind.BadRequest, "malformed discussion_view_ready")
		return
	}
	m, ok := s.matchFor(p.RoomID)
	if !ok {
		s.sendError(connID, errkind.NotFound, "no active match")
		return
	}

	r, err := s.registry.MarkDiscussionViewReady(p.RoomID, p.UserID)
	if err != nil {
		s.sendError(connID, errkindForRoomErr(err), err.Error())
		return
	}
	s.coord.Broadcast(p.RoomID, "room_update", roomView(r))

	m.DiscussionViewReady(p.UserID)
}

type sendMessagePayload struct {
	RoomID  string `json:"roomId"`
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

func (s *Server) onSendMessage(connID string, raw json.RawMessage) {
	var p sendMessagePayload
	if !decode(raw, &p) {
		s.sendError(connID, errkind.BadRequest, "malformed send_message")
		return
	}
	m, ok := s.matchFor(p.RoomID)
	if !ok {
		s.sendError(connID, errkind.NotFound, "no active match")
		return
	}
	m.SendMessage(p.UserID, p.Message)
}

func (s *Server) onGetMessages(connID string, raw json.RawMessage) {
	var p struct {
		RoomID string `json:"roomId"`
	}
	if !decode(raw, &p) {
		s.sendError(connID, errkind.BadRequest, "missing roomId")
		return
	}
	m, ok := s.matchFor(p.RoomID)
	if !ok {
		s.hub.SendToConn(connID, "get_messages", view{"messages": []view{}})
		return
	}
	done := make(chan match.Snapshot, 1)
	m.Snapshot("", done)
	snap := <-done
	s.hub.SendToConn(connID, "get_messages", view{"messages": messagesView(snap)})
}

func (s *Server) onGetRoomState(connID string, raw json.RawMessage) {
	var p joinRoomPayload
	if !decode(raw, &p) {
		s.sendError(connID, errkind.BadRequest, "malformed get_room_state")
		return
	}
	r, ok := s.registry.Get(p.RoomID)
	if !ok {
		s.sendError(connID, errkind.NotFound, "unknown room")
		return
	}
	m, _ := s.matchFor(p.RoomID)
	snap := session.BuildSnapshot(r, m, p.UserID)
	s.hub.SendToConn(connID, "room_state_updated", snapshotView(snap))
}

// --- Referee actions ---

type refereeActionPayload struct {
	RoomID       string `json:"roomId"`
	TargetUserID string `json:"targetUserId"`
	Points       int    `json:"points"`
	Seconds      int    `json:"seconds"`
	RefereeID    string `json:"refereeId"`
}

func (s *Server) onRefereeAction(connID string, raw json.RawMessage, event string) {
	var p refereeActionPayload
	if !decode(raw, &p) {
		s.sendError(connID, errkind.BadRequest, "malformed "+event)
		return
	}
	if !s.isReferee(p.RoomID, p.RefereeID) {
		s.sendError(connID, errkind.Forbidden, "referee action requires the seated referee")
		return
	}
	m, ok := s.matchFor(p.RoomID)
	if !ok {
		s.sendError(connID, errkind.NotFound, "no active match")
		return
	}

	switch event {
	case "referee_add_points":
		m.RefereeAddPoints(p.TargetUserID, p.Points)
	case "referee_deduct_points":
		m.RefereeDeductPoints(p.TargetUserID, p.Points)
	case "referee_extend_time":
		m.RefereeExtendTime(p.TargetUserID, p.Seconds)
	case "referee_reduce_time":
		m.RefereeReduceTime(p.TargetUserID, p.Seconds)
	}
}

type refereeScoresPayload struct {
	RoomID    string `json:"roomId"`
	RefereeID string `json:"refereeId"`
	Scores    struct {
		Agree    int `json:"agree"`
		Disagree int `json:"disagree"`
	} `json:"scores"`
}

func (s *Server) onRefereeSubmitScores(connID string, raw json.RawMessage) {
	var p refereeScoresPayload
	if !decode(raw, &p) {
		s.sendError(connID, errkind.BadRequest, "malformed referee_submit_scores")
		return
	}
	if !s.isReferee(p.RoomID, p.RefereeID) {
		s.sendError(connID, errkind.Forbidden, "referee action requires the seated referee")
		return
	}
	m, ok := s.matchFor(p.RoomID)
	if !ok {
		s.sendError(connID, errkind.NotFound, "no active match")
		return
	}
	m.SubmitRefereeScores(p.Scores.Agree, p.Scores.Disagree)
}

func (s *Server) isReferee(roomID, userID string) bool {
	if userID == "" {
		return false
	}
	r, ok := s.registry.Get(roomID)
	if !ok {
		return false
	}
	for _, p := range r.Participants {
		if p.UserID == userID && p.Role == types.RoleReferee {
			return true
		}
	}
	return false
}

func errkindForRoomErr(err error) errkind.Kind {
	switch err {
	case room.ErrRoomNotFound:
		return errkind.NotFound
	case room.ErrBattleStarted:
		return errkind.Conflict
	case room.ErrRefereeNotAdmin:
		return errkind.Forbidden
	case room.ErrNotAPlayer:
		return errkind.Forbidden
	default:
		return errkind.BadRequest
	}
}

func snapshotView(snap session.Snapshot) view {
	messages := make([]view, 0, len(snap.Messages))
	for _, msg := range snap.Messages {
		messages = append(messages, view{"sender": string(msg.Sender), "text": msg.Text, "timestampMs": msg.TimestampMs})
	}
	participants := make([]view, 0, len(snap.Participants))
	for _, p := range snap.Participants {
		participants = append(participants, participantView(p))
	}
	return view{
		"roomId":              snap.RoomID,
		"exists":              snap.Exists,
		"phase":               snap.Phase,
		"stageDescription":    snap.StageDescription,
		"currentPlayerUserId": snap.CurrentPlayerUserID,
		"isCallerTurn":        snap.IsCallerTurn,
		"messages":            messages,
		"participants":        participants,

		"roundTimeRemainingSec": snap.RoundTimeRemainingSec,
		"totalTimeRemainingSec": snap.TotalTimeRemainingSec,
		"overtimeRemainingSec":  snap.OvertimeRemainingSec,
		"isOvertime":            snap.IsOvertime,

		"callerPenaltyPoints":   snap.CallerPenaltyPoints,
		"opponentPenaltyPoints": snap.OpponentPenaltyPoints,
	}
}

func messagesView(snap match.Snapshot) []view {
	out := make([]view, 0, len(snap.Messages))
	for _, msg := range snap.Messages {
		out = append(out, view{"sender": string(msg.Sender), "text": msg.Text, "timestampMs": msg.TimestampMs})
	}
	return out
}
