package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neo/debatematch_backend/internal/clock"
	"github.com/neo/debatematch_backend/internal/judge"
	"github.com/neo/debatematch_backend/internal/match"
	"github.com/neo/debatematch_backend/internal/room"
	"github.com/neo/debatematch_backend/internal/store"
	"github.com/neo/debatematch_backend/internal/timer"
	"github.com/neo/debatematch_backend/internal/types"
)

type fakeBroadcaster struct {
	mu    sync.Mutex
	sends []fakeSend
}

type fakeSend struct {
	kind   string // "broadcast" or "conn"
	target string // roomID or connID
	event  string
}

func (f *fakeBroadcaster) Broadcast(roomID, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, fakeSend{kind: "broadcast", target: roomID, event: event})
}

func (f *fakeBroadcaster) SendToConn(connID, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, fakeSend{kind: "conn", target: connID, event: event})
}

func (f *fakeBroadcaster) countToConn(connID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sends {
		if s.kind == "conn" && s.target == connID {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	mu       sync.Mutex
	profiles map[string]*store.Profile
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{profiles: map[string]*store.Profile{
		"agree-1":    {UserID: "agree-1", Rating: 1500},
		"disagree-1": {UserID: "disagree-1", Rating: 1500},
	}}
}

func (f *fakeGateway) GetSubject(id string) (*store.Subject, error) { return nil, store.ErrNotFound }
func (f *fakeGateway) ListSubjects() ([]*store.Subject, error)      { return nil, nil }
func (f *fakeGateway) InsertSubject(s store.Subject) error          { return nil }

func (f *fakeGateway) GetProfile(userID string) (*store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeGateway) UpdateProfile(userID string, update store.ProfileUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profiles[userID]
	if update.Rating != nil {
		p.Rating = *update.Rating
	}
	if update.Wins != nil {
		p.Wins = *update.Wins
	}
	if update.Loses != nil {
		p.Loses = *update.Loses
	}
	return nil
}

func (f *fakeGateway) InsertMatch(rec store.MatchRecord) error { return nil }
func (f *fakeGateway) Close() error                            { return nil }

type fakeJudge struct{}

func (f fakeJudge) Evaluate(ctx context.Context, subject string, transcript []judge.Turn) (*judge.Verdict, string, error) {
	return &judge.Verdict{WinnerSide: "agree"}, "narration", nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// TestReconnectMidMatchRebindsToNewConnection covers scenario S3:
// during an in-progress match a Player's connection drops and the same
// user reconnects with a new connection id; engine events addressed to
// that user must thereafter reach the new connection only.
func TestReconnectMidMatchRebindsToNewConnection(t *testing.T) {
	bc := &fakeBroadcaster{}
	coord := New(bc)

	coord.Bind("conn-old", "agree-1")
	assert.Equal(t, 0, bc.countToConn("conn-old"))

	agree := match.Player{UserID: "agree-1", DisplayName: "A", Position: types.PositionAgree}
	disagree := match.Player{UserID: "disagree-1", DisplayName: "D", Position: types.PositionDisagree}

	gw := newFakeGateway()
	m := match.New("room1", store.Subject{ID: "s1", Title: "Topic"}, agree, disagree, false, "", clock.New(), coord, gw, fakeJudge{}, nil)

	m.DiscussionViewReady(agree.UserID)
	m.DiscussionViewReady(disagree.UserID)

	coord.SendToUser("room1", "agree-1", "turn_info", map[string]interface{}{})
	waitFor(t, time.Second, func() bool { return bc.countToConn("conn-old") >= 1 })

	// Connection drops; the same user reconnects under a new connection id.
	coord.Unbind("conn-old")
	coord.Bind("conn-new", "agree-1")

	userID, ok := coord.UserID("conn-new")
	require.True(t, ok)
	assert.Equal(t, "agree-1", userID)

	_, staleOK := coord.UserID("conn-old")
	assert.False(t, staleOK)

	before := bc.countToConn("conn-old")
	coord.SendToUser("room1", "agree-1", "turn_info", map[string]interface{}{})
	waitFor(t, time.Second, func() bool { return bc.countToConn("conn-new") >= 1 })
	assert.Equal(t, before, bc.countToConn("conn-old"))
}

// TestBuildSnapshotReflectsCurrentPhaseAndMessages covers the
// get_room_state half of S3: a resync request must echo the match's
// current phase, whose turn it is, the full transcript so far, a live
// timer budget for the active speaker, and the caller's and opponent's
// penalty counts.
func TestBuildSnapshotReflectsCurrentPhaseAndMessages(t *testing.T) {
	bc := &fakeBroadcaster{}
	coord := New(bc)

	agree := match.Player{UserID: "agree-1", DisplayName: "A", Position: types.PositionAgree}
	disagree := match.Player{UserID: "disagree-1", DisplayName: "D", Position: types.PositionDisagree}

	gw := newFakeGateway()
	m := match.New("room2", store.Subject{ID: "s1", Title: "Topic"}, agree, disagree, false, "", clock.New(), coord, gw, fakeJudge{}, nil)

	m.DiscussionViewReady(agree.UserID)
	m.DiscussionViewReady(disagree.UserID)

	r := &room.Room{RoomID: "room2", Participants: []*room.Participant{
		{UserID: "agree-1", DisplayName: "A"},
		{UserID: "disagree-1", DisplayName: "D"},
	}}

	var snap Snapshot
	waitFor(t, time.Second, func() bool {
		snap = BuildSnapshot(r, m, "agree-1")
		return snap.Exists && snap.Phase == match.PhaseAgreeOpening
	})

	assert.Empty(t, snap.Messages)
	assert.True(t, snap.IsCallerTurn)
	assert.Equal(t, "agree-1", snap.CurrentPlayerUserID)
	assert.NotEmpty(t, snap.StageDescription)

	assert.Greater(t, snap.RoundTimeRemainingSec, 0)
	assert.LessOrEqual(t, snap.RoundTimeRemainingSec, timer.RoundLimitMs/1000)
	assert.Greater(t, snap.TotalTimeRemainingSec, 0)
	assert.LessOrEqual(t, snap.TotalTimeRemainingSec, timer.TotalLimitMs/1000)
	assert.False(t, snap.IsOvertime)
	assert.Equal(t, 0, snap.CallerPenaltyPoints)
	assert.Equal(t, 0, snap.OpponentPenaltyPoints)
}

// TestBuildSnapshotWithNoMatchReportsLobbyOnly covers the pre-battle /
// torn-down case: no running match means Exists=false and only the room
// roster comes back.
func TestBuildSnapshotWithNoMatchReportsLobbyOnly(t *testing.T) {
	r := &room.Room{RoomID: "room3", Participants: []*room.Participant{
		{UserID: "agree-1", DisplayName: "A"},
	}}

	snap := BuildSnapshot(r, nil, "agree-1")
	assert.False(t, snap.Exists)
	assert.Equal(t, "room3", snap.RoomID)
	assert.Len(t, snap.Participants, 1)
}
