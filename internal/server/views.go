package server

import (
	"github.com/neo/debatematch_backend/internal/room"
	"github.com/neo/debatematch_backend/internal/store"
)

type view = map[string]interface{}

func participantView(p *room.Participant) view {
	return view{
		"connectionId":        p.ConnectionID,
		"userId":              p.UserID,
		"displayName":         p.DisplayName,
		"role":                p.Role.String(),
		"position":            p.Position.String(),
		"isReady":             p.IsReady,
		"discussionViewReady": p.DiscussionViewReady,
		"ratingSnapshot":      p.RatingSnapshot,
		"winsSnapshot":        p.WinsSnapshot,
		"lossesSnapshot":      p.LossesSnapshot,
	}
}

func roomView(r *room.Room) view {
	participants := make([]view, 0, len(r.Participants))
	for _, p := range r.Participants {
		participants = append(participants, participantView(p))
	}
	return view{
		"roomId":        r.RoomID,
		"subject":       subjectView(r.Subject),
		"participants":  participants,
		"battleStarted": r.BattleStarted,
		"isCompleted":   r.IsCompleted,
		"hasReferee":    r.HasReferee,
	}
}

func subjectView(s store.Subject) view {
	return view{"id": s.ID, "title": s.Title, "body": s.Body}
}

func subjectsView(subjects []*store.Subject) []view {
	out := make([]view, 0, len(subjects))
	for _, s := range subjects {
		out = append(out, subjectView(*s))
	}
	return out
}

func profileView(p *store.Profile) view {
	return view{
		"userId":      p.UserID,
		"displayName": p.DisplayName,
		"rating":      p.Rating,
		"wins":        p.Wins,
		"losses":      p.Loses,
		"isAdmin":     p.IsAdmin,
	}
}

func roomsView(rooms []*room.Room) []view {
	out := make([]view, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, roomView(r))
	}
	return out
}
