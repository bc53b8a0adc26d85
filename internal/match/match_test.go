package match

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neo/debatematch_backend/internal/clock"
	"github.com/neo/debatematch_backend/internal/judge"
	"github.com/neo/debatematch_backend/internal/store"
	"github.com/neo/debatematch_backend/internal/timer"
	"github.com/neo/debatematch_backend/internal/types"
)

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []fakeEvent
}

type fakeEvent struct {
	roomID, event string
	payload       interface{}
}

func (f *fakeBroadcaster) Broadcast(roomID, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fakeEvent{roomID, event, payload})
}

func (f *fakeBroadcaster) SendToUser(roomID, userID, event string, payload interface{}) {
	f.Broadcast(roomID, event, payload)
}

func (f *fakeBroadcaster) last(event string) (fakeEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].event == event {
			return f.events[i], true
		}
	}
	return fakeEvent{}, false
}

func (f *fakeBroadcaster) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.event == event {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	mu       sync.Mutex
	profiles map[string]*store.Profile
	matches  []store.MatchRecord
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

func (f *fakeGateway) InsertMatch(rec store.MatchRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches = append(f.matches, rec)
	return nil
}

func (f *fakeGateway) Close() error { return nil }

type fakeJudge struct {
	verdict *judge.Verdict
	err     error
}

func (f *fakeJudge) Evaluate(ctx context.Context, subject string, transcript []judge.Turn) (*judge.Verdict, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.verdict, "narration", nil
}

func newTestPlayers() (Player, Player) {
	return Player{UserID: "agree-1", DisplayName: "A", Position: types.PositionAgree},
		Player{UserID: "disagree-1", DisplayName: "D", Position: types.PositionDisagree}
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

func driveToEvaluation(t *testing.T, m *Match, bc *fakeBroadcaster, agree, disagree Player) {
	t.Helper()

	m.DiscussionViewReady(agree.UserID)
	m.DiscussionViewReady(disagree.UserID)
	waitFor(t, 2*time.Second, func() bool { return bc.count("turn_info") >= 1 })

	turns := []struct {
		speaker Player
		text    string
	}{
		{agree, "A1"}, {disagree, "D1"}, {disagree, "D2"}, {agree, "A2"},
		{disagree, "D3"}, {agree, "A3"}, {disagree, "D4"}, {agree, "A4"}, {disagree, "D5"},
	}
	for _, turn := range turns {
		m.SendMessage(turn.speaker.UserID, turn.text)
	}
}

func TestHappyPathNoRefereeAppliesEloAndPersists(t *testing.T) {
	bc := &fakeBroadcaster{}
	gw := newFakeGateway()
	jc := &fakeJudge{verdict: &judge.Verdict{
		Agree:      judge.Side{Score: 80},
		Disagree:   judge.Side{Score: 70},
		WinnerSide: "agree",
	}}
	agree, disagree := newTestPlayers()

	m := New("room1", store.Subject{ID: "s1", Title: "Topic"}, agree, disagree, false, "", clock.New(), bc, gw, jc, nil)

	driveToEvaluation(t, m, bc, agree, disagree)

	waitFor(t, 2*time.Second, func() bool { return bc.count("battle_result") >= 1 })

	ev, ok := bc.last("battle_result")
	require.True(t, ok)
	result := ev.payload.(payload)
	assert.Equal(t, "agree-1", result["winnerUserId"])

	require.Len(t, gw.matches, 1)
	assert.Equal(t, "agree-1", gw.matches[0].WinnerID)

	agreeProfile, _ := gw.GetProfile("agree-1")
	disagreeProfile, _ := gw.GetProfile("disagree-1")
	assert.Greater(t, agreeProfile.Rating, 1500.0)
	assert.Less(t, disagreeProfile.Rating, 1500.0)
	assert.Equal(t, 1, agreeProfile.Wins)
	assert.Equal(t, 1, disagreeProfile.Loses)
}

func TestRefereeBlendOverridesAIWinner(t *testing.T) {
	bc := &fakeBroadcaster{}
	gw := newFakeGateway()
	jc := &fakeJudge{verdict: &judge.Verdict{
		Agree:      judge.Side{Score: 60},
		Disagree:   judge.Side{Score: 80},
		WinnerSide: "disagree",
	}}
	agree, disagree := newTestPlayers()

	m := New("room2", store.Subject{ID: "s1", Title: "Topic"}, agree, disagree, true, "referee-1", clock.New(), bc, gw, jc, nil)

	driveToEvaluation(t, m, bc, agree, disagree)
	waitFor(t, 2*time.Second, func() bool { return bc.count("ai_judge_message") >= 1 })

	m.SubmitRefereeScores(90, 50)

	waitFor(t, 2*time.Second, func() bool { return bc.count("battle_result") >= 1 })

	ev, ok := bc.last("battle_result")
	require.True(t, ok)
	result := ev.payload.(payload)
	assert.Equal(t, "agree-1", result["winnerUserId"])
	assert.Equal(t, 78, result["agreeScore"])
	assert.Equal(t, 62, result["disagreeScore"])
	assert.Equal(t, true, result["blended"])
}

func TestPenaltyForfeitEndsMatchWithoutWaitingOnJudge(t *testing.T) {
	bc := &fakeBroadcaster{}
	gw := newFakeGateway()
	jc := &fakeJudge{verdict: &judge.Verdict{WinnerSide: "agree"}}
	agree, disagree := newTestPlayers()

	var onTerminalCalled bool
	var mu sync.Mutex
	onTerminal := func(roomID string) {
		mu.Lock()
		onTerminalCalled = true
		mu.Unlock()
	}

	m := New("room3", store.Subject{ID: "s1", Title: "Topic"}, agree, disagree, false, "", clock.New(), bc, gw, jc, onTerminal)

	m.DiscussionViewReady(agree.UserID)
	m.DiscussionViewReady(disagree.UserID)
	waitFor(t, 2*time.Second, func() bool { return bc.count("turn_info") >= 1 })

	m.submit(func() {
		m.handleOverflow(timer.Overflow{PlayerID: agree.UserID, Type: types.OverflowRound, PenaltyPoints: timer.PenaltyMax, Forfeit: true})
	})

	waitFor(t, 2*time.Second, func() bool { return bc.count("battle_result") >= 1 })

	ev, ok := bc.last("battle_result")
	require.True(t, ok)
	result := ev.payload.(payload)
	assert.Equal(t, "disagree-1", result["winnerUserId"])
	assert.Equal(t, 0, result["agreeScore"])
	assert.Equal(t, 100, result["disagreeScore"])

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, onTerminalCalled)
}

func TestNonCurrentSpeakerMessageIsSilentlyDropped(t *testing.T) {
	bc := &fakeBroadcaster{}
	gw := newFakeGateway()
	jc := &fakeJudge{verdict: &judge.Verdict{WinnerSide: "agree"}}
	agree, disagree := newTestPlayers()

	m := New("room4", store.Subject{ID: "s1", Title: "Topic"}, agree, disagree, false, "", clock.New(), bc, gw, jc, nil)

	m.DiscussionViewReady(agree.UserID)
	m.DiscussionViewReady(disagree.UserID)
	waitFor(t, 2*time.Second, func() bool { return bc.count("turn_info") >= 1 })

	before := bc.count("turn_info")
	m.SendMessage(disagree.UserID, "out of turn")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, bc.count("turn_info"))
}
