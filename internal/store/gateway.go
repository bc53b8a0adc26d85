package store

import "errors"

// Kind-free sentinel errors a Gateway implementation wraps into errkind.Kinded
// at the call site that needs the classification (the store package itself
// stays free of the errkind import so it can be used outside the match
// engine, e.g. by the REST mirror handlers, without pulling in that policy).
var (
	ErrNotFound  = errors.New("store: not found")
	ErrConflict  = errors.New("store: conflict")
	ErrTransient = errors.New("store: transient failure")
)

// Profile is a user's persistent standing: rating, win/loss record, and
// the display attributes shown alongside it in a room roster.
type Profile struct {
	UserID      string
	DisplayName string
	Rating      float64
	Wins        int
	Loses       int
	IsAdmin     bool
	AvatarURL   string
}

// ProfileUpdate carries the subset of Profile fields a caller wants to
// change. A nil field is left untouched.
type ProfileUpdate struct {
	DisplayName *string
	Rating      *float64
	Wins        *int
	Loses       *int
	IsAdmin     *bool
	AvatarURL   *string
}

// Subject is a debate topic available for room creation.
type Subject struct {
	ID    string
	Title string
	Body  string
}

// MatchRecord is the persisted result of one completed match.
type MatchRecord struct {
	ID          string
	Player1     string // agree side
	Player2     string // disagree side
	SubjectID   string
	WinnerID    string
	LogJSON     string
	VerdictJSON string
}

// Gateway is the narrow typed surface the rest of the engine uses to read
// and write durable state. It carries no business logic: rating math,
// win/loss bookkeeping, and subject fallback behavior all live in their
// callers.
type Gateway interface {
	GetSubject(id string) (*Subject, error)
	ListSubjects() ([]*Subject, error)
	InsertSubject(s Subject) error
	GetProfile(userID string) (*Profile, error)
	UpdateProfile(userID string, update ProfileUpdate) error
	InsertMatch(rec MatchRecord) error
	Close() error
}
