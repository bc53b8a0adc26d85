// Package match implements the nine-phase turn state machine: one
// goroutine per match draining a mailbox of client events, timer ticks,
// judge completions, and referee actions, so state mutation is always
// serialised without holding a lock across a blocking call.
package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/neo/debatematch_backend/internal/clock"
	"github.com/neo/debatematch_backend/internal/elo"
	"github.com/neo/debatematch_backend/internal/errkind"
	"github.com/neo/debatematch_backend/internal/judge"
	"github.com/neo/debatematch_backend/internal/logging"
	"github.com/neo/debatematch_backend/internal/msglog"
	"github.com/neo/debatematch_backend/internal/store"
	"github.com/neo/debatematch_backend/internal/timer"
	"github.com/neo/debatematch_backend/internal/types"
)

// Broadcaster is the narrow fan-out surface the match needs. It is
// satisfied by internal/session.Coordinator, which resolves SendToUser to
// a live connection before handing off to the transport layer; kept as an
// interface here so this package never imports gorilla/websocket directly.
type Broadcaster interface {
	Broadcast(roomID, event string, payload interface{})
	SendToUser(roomID, userID, event string, payload interface{})
}

// TerminalFunc is invoked exactly once, on the match's own goroutine,
// immediately before it exits, so the composition root can remove the
// match from its registry and mark the Room completed.
type TerminalFunc func(roomID string)

// JudgeEvaluator is the evaluation surface the match needs. Satisfied by
// *judge.Client; narrowed to an interface so tests can substitute a fake
// that never dials the network.
type JudgeEvaluator interface {
	Evaluate(ctx context.Context, subject string, transcript []judge.Turn) (*judge.Verdict, string, error)
}

const settlingDelay = 400 * time.Millisecond

// Match owns one debate's turn state machine. All fields above the
// mailbox are touched only from the run() goroutine; external callers
// interact exclusively through the command-sending methods (and Stop,
// which cancels ctx).
type Match struct {
	roomID  string
	matchID string
	subject store.Subject

	agree         Player
	disagree      Player
	hasReferee    bool
	refereeUserID string

	phase               int
	discussionViewReady map[string]bool
	discussionEntries   []DiscussionEntry
	endedByPenalty      bool
	aiVerdict           *judge.Verdict
	aiNarration         string
	humanScores         *Scores

	log     *msglog.Log
	timerEn *timer.Engine
	clock   clock.Clock

	broadcaster Broadcaster
	gateway     store.Gateway
	judgeClient JudgeEvaluator
	onTerminal  TerminalFunc

	mailbox chan func()
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a Match at phase 0 (Opening) and starts its goroutine. The
// caller (the composition root, reacting to Room Registry's ToggleReady
// returning justStarted=true) is responsible for supplying both Players'
// identities in Position order.
func New(roomID string, subject store.Subject, agree, disagree Player, hasReferee bool, refereeUserID string, c clock.Clock, broadcaster Broadcaster, gateway store.Gateway, judgeClient JudgeEvaluator, onTerminal TerminalFunc) *Match {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Match{
		roomID:              roomID,
		matchID:             uuid.NewString(),
		subject:             subject,
		agree:               agree,
		disagree:            disagree,
		hasReferee:          hasReferee,
		refereeUserID:       refereeUserID,
		phase:               PhaseOpening,
		discussionViewReady: make(map[string]bool),
		log:                 msglog.New(),
		timerEn:             timer.New(c),
		clock:               c,
		broadcaster:         broadcaster,
		gateway:             gateway,
		judgeClient:         judgeClient,
		onTerminal:          onTerminal,
		mailbox:             make(chan func(), 64),
		ctx:                 ctx,
		cancel:              cancel,
	}

	go m.run()
	return m
}

// run is the match's single-threaded event loop. Every mutation to match
// state happens inside a function submitted to the mailbox, so nothing in
// this package needs its own lock.
func (m *Match) run() {
	defer func() {
		if r := recover(); r != nil {
			logging.LogMatchEvent("match_panic_recovered", m.roomID, map[string]interface{}{"panic": fmt.Sprintf("%v", r)})
		}
	}()

	for {
		select {
		case fn := <-m.mailbox:
			fn()
		case update := <-m.timerEn.Updates():
			m.handleTimerUpdate(update)
		case overflow := <-m.timerEn.Overflows():
			m.handleOverflow(overflow)
		case <-m.ctx.Done():
			m.timerEn.StopAll()
			return
		}
	}
}

func (m *Match) submit(fn func()) {
	select {
	case m.mailbox <- fn:
	case <-m.ctx.Done():
	}
}

// Stop cancels the match's goroutine without running teardown bookkeeping
// (used when the process is shutting down, not when a match completes
// normally).
func (m *Match) Stop() {
	m.cancel()
}

func (m *Match) currentSpeaker() (Player, bool) {
	pos, ok := speakerByPhase[m.phase]
	if !ok {
		return Player{}, false
	}
	if pos == types.PositionAgree {
		return m.agree, true
	}
	return m.disagree, true
}

func (m *Match) opponent(userID string) Player {
	if userID == m.agree.UserID {
		return m.disagree
	}
	return m.agree
}

// DiscussionViewReady handles discussion_view_ready. Once both Players
// have signalled readiness the match transitions 0 -> 1 after a short
// settling delay.
func (m *Match) DiscussionViewReady(userID string) {
	m.submit(func() {
		if m.phase != PhaseOpening {
			return
		}
		m.discussionViewReady[userID] = true
		if !m.discussionViewReady[m.agree.UserID] || !m.discussionViewReady[m.disagree.UserID] {
			return
		}

		m.broadcaster.Broadcast(m.roomID, "player_list_updated", payload{
			"players": []payload{
				{"userId": m.agree.UserID, "position": "agree"},
				{"userId": m.disagree.UserID, "position": "disagree"},
			},
		})

		time.AfterFunc(settlingDelay, func() {
			m.submit(m.beginPhaseOne)
		})
	})
}

func (m *Match) beginPhaseOne() {
	if m.phase != PhaseOpening {
		return
	}
	m.advanceTo(PhaseAgreeOpening)
}

// advanceTo moves to phase, emits turn_info, and starts the new speaker's
// timer turn (if the new phase has a speaker).
func (m *Match) advanceTo(phase int) {
	m.phase = phase

	speaker, hasSpeaker := m.currentSpeaker()
	if !hasSpeaker {
		return
	}

	m.timerEn.StartTurn(speaker.UserID)

	m.broadcaster.Broadcast(m.roomID, "turn_info", payload{
		"currentPlayerId":  speaker.UserID,
		"stage":            phase,
		"stageDescription": stageDescription(phase),
	})

	logging.LogMatchEvent("phase_advanced", m.roomID, map[string]interface{}{"phase": phase, "speaker": speaker.UserID})
}

// SendMessage handles send_message. Messages from anyone but the current
// speaker are silently rejected per spec (no error event).
func (m *Match) SendMessage(userID, text string) {
	m.submit(func() {
		speaker, hasSpeaker := m.currentSpeaker()
		if !hasSpeaker || speaker.UserID != userID {
			return
		}

		m.timerEn.StopTurn()

		m.discussionEntries = append(m.discussionEntries, DiscussionEntry{UserID: userID, Text: text, Phase: m.phase})

		sender := types.SenderAgree
		if speaker.Position == types.PositionDisagree {
			sender = types.SenderDisagree
		}
		if m.log.Append(msglog.Message{Sender: sender, Text: text, TimestampMs: m.clock.Now()}) {
			m.broadcaster.Broadcast(m.roomID, "messages_updated", payload{"messages": m.messagesPayload()})
		}

		next := m.phase + 1
		if next >= PhaseEvaluation {
			m.beginEvaluation()
			return
		}
		m.advanceTo(next)
	})
}

func (m *Match) messagesPayload() []payload {
	snap := m.log.Snapshot()
	out := make([]payload, 0, len(snap))
	for _, msg := range snap {
		out = append(out, payload{"sender": string(msg.Sender), "text": msg.Text, "timestampMs": msg.TimestampMs})
	}
	return out
}

// payload is the JSON object shape used for every broadcast event in this
// package.
type payload = map[string]interface{}

func (m *Match) transcript() []judge.Turn {
	turns := make([]judge.Turn, 0, len(m.discussionEntries))
	for _, e := range m.discussionEntries {
		speaker := "agree"
		if e.UserID == m.disagree.UserID {
			speaker = "disagree"
		}
		turns = append(turns, judge.Turn{Speaker: speaker, Text: e.Text})
	}
	return turns
}

func (m *Match) beginEvaluation() {
	m.phase = PhaseEvaluation
	subjectTitle := m.subject.Title
	transcript := m.transcript()

	go func() {
		verdict, narration, err := m.judgeClient.Evaluate(context.Background(), subjectTitle, transcript)
		m.submit(func() {
			m.handleJudgeCompleted(verdict, narration, err)
		})
	}()
}

func (m *Match) handleJudgeCompleted(verdict *judge.Verdict, narration string, err error) {
	if m.phase != PhaseEvaluation {
		// A late completion after teardown/forfeit; drop it.
		return
	}

	if err != nil {
		wrapped := errkind.New(errkind.JudgeError, err)
		logging.LogMatchEvent("judge_error", m.roomID, map[string]interface{}{"error": wrapped.Error()})
		m.broadcaster.Broadcast(m.roomID, "battle_error", payload{"text": "evaluation failed"})
		m.teardown()
		return
	}

	m.aiVerdict = verdict
	m.aiNarration = narration

	m.log.Append(msglog.Message{Sender: types.SenderJudge, Text: narration, TimestampMs: m.clock.Now()})
	m.broadcaster.Broadcast(m.roomID, "ai_judge_message", payload{"message": narration, "stage": m.phase})
	m.broadcaster.Broadcast(m.roomID, "messages_updated", payload{"messages": m.messagesPayload()})

	if m.hasReferee && m.refereeUserID != "" {
		m.broadcaster.SendToUser(m.roomID, m.refereeUserID, "show_referee_score_modal", payload{
			"agreeScore":    verdict.Agree.Score,
			"disagreeScore": verdict.Disagree.Score,
		})
	}

	m.maybeFinalize()
}

// maybeFinalize completes the match once the AI verdict has arrived and
// either no Referee is seated (the normal case finalizes immediately) or
// the seated Referee has submitted blended scores.
func (m *Match) maybeFinalize() {
	if m.aiVerdict == nil {
		return
	}
	if !m.hasReferee {
		m.finalize(verdictFromJudge(m.aiVerdict, m.agree, m.disagree))
		return
	}
	if m.humanScores != nil {
		m.finalize(m.blendedVerdict())
	}
}

func (m *Match) blendedVerdict() Verdict {
	agreeFinal := roundHalfAwayFromZero(float64(m.aiVerdict.Agree.Score)*0.4 + float64(m.humanScores.Agree)*0.6)
	disagreeFinal := roundHalfAwayFromZero(float64(m.aiVerdict.Disagree.Score)*0.4 + float64(m.humanScores.Disagree)*0.6)

	winner := m.agree.UserID
	if disagreeFinal > agreeFinal {
		winner = m.disagree.UserID
	}
	// Ties preserve the AI winner per spec.
	if agreeFinal == disagreeFinal {
		winner = verdictFromJudge(m.aiVerdict, m.agree, m.disagree).WinnerUserID
	}

	return Verdict{AgreeScore: agreeFinal, DisagreeScore: disagreeFinal, WinnerUserID: winner, Blended: true}
}

func roundHalfAwayFromZero(f float64) int {
	if f >= 0 {
		return int(f + 0.5)
	}
	return -int(-f + 0.5)
}

// SubmitRefereeScores handles referee_submit_scores.
func (m *Match) SubmitRefereeScores(agreeScore, disagreeScore int) {
	m.submit(func() {
		m.humanScores = &Scores{Agree: agreeScore, Disagree: disagreeScore}
		m.maybeFinalize()
	})
}

func (m *Match) finalize(v Verdict) {
	loser := m.agree.UserID
	if v.WinnerUserID == m.agree.UserID {
		loser = m.disagree.UserID
	}

	m.broadcaster.Broadcast(m.roomID, "battle_result", payload{
		"winnerUserId":  v.WinnerUserID,
		"agreeScore":    v.AgreeScore,
		"disagreeScore": v.DisagreeScore,
		"blended":       v.Blended,
	})

	m.persistAndRate(v, loser)
	m.teardown()
}

func (m *Match) persistAndRate(v Verdict, loser string) {
	logJSON, _ := json.Marshal(m.discussionEntries)
	verdictJSON, _ := json.Marshal(v)

	err := m.gateway.InsertMatch(store.MatchRecord{
		ID:          m.matchID,
		Player1:     m.agree.UserID,
		Player2:     m.disagree.UserID,
		SubjectID:   m.subject.ID,
		WinnerID:    v.WinnerUserID,
		LogJSON:     string(logJSON),
		VerdictJSON: string(verdictJSON),
	})
	if err != nil {
		kind := errkind.StoreTransient
		if !errors.Is(err, store.ErrTransient) {
			kind = errkind.Fatal
		}
		wrapped := errkind.New(kind, err)
		logging.LogMatchEvent("match_persist_failed", m.roomID, map[string]interface{}{"error": wrapped.Error(), "kind": errkind.Of(wrapped)})
	}

	m.applyElo(v.WinnerUserID, loser)
}

func (m *Match) applyElo(winnerID, loserID string) {
	winnerProfile, err := m.gateway.GetProfile(winnerID)
	if err != nil {
		logging.LogMatchEvent("rating_fetch_failed", m.roomID, map[string]interface{}{"user_id": winnerID})
		return
	}
	loserProfile, err := m.gateway.GetProfile(loserID)
	if err != nil {
		logging.LogMatchEvent("rating_fetch_failed", m.roomID, map[string]interface{}{"user_id": loserID})
		return
	}

	newWinnerRating := elo.Update(elo.Result{Rating: winnerProfile.Rating, Score: 1}, elo.Result{Rating: loserProfile.Rating, Score: 0})
	newLoserRating := elo.Update(elo.Result{Rating: loserProfile.Rating, Score: 0}, elo.Result{Rating: winnerProfile.Rating, Score: 1})

	winnerWins := winnerProfile.Wins + 1
	loserLoses := loserProfile.Loses + 1

	if err := m.gateway.UpdateProfile(winnerID, store.ProfileUpdate{Rating: &newWinnerRating, Wins: &winnerWins}); err != nil {
		logging.LogMatchEvent("rating_update_failed", m.roomID, map[string]interface{}{"user_id": winnerID})
	}
	if err := m.gateway.UpdateProfile(loserID, store.ProfileUpdate{Rating: &newLoserRating, Loses: &loserLoses}); err != nil {
		logging.LogMatchEvent("rating_update_failed", m.roomID, map[string]interface{}{"user_id": loserID})
	}
}

// teardown deletes this MatchState. No further events are emitted for
// this roomId afterward.
func (m *Match) teardown() {
	logging.LogMatchEvent("match_teardown", m.roomID, nil)
	if m.onTerminal != nil {
		m.onTerminal(m.roomID)
	}
	m.cancel()
}

// --- Timer/overflow plumbing ---

func (m *Match) handleTimerUpdate(u timer.Update) {
	m.broadcaster.Broadcast(m.roomID, "timer_update", payload{
		"currentPlayerId":       u.CurrentPlayerID,
		"roundTimeRemainingSec": u.RoundTimeRemainingSec,
		"totalTimeRemainingSec": u.TotalTimeRemainingSec,
		"isOvertime":            u.IsOvertime,
		"overtimeRemainingSec":  u.OvertimeRemainingSec,
		"roundLimitSec":         u.RoundLimitSec,
		"totalLimitSec":         u.TotalLimitSec,
	})
}

func (m *Match) handleOverflow(o timer.Overflow) {
	m.broadcaster.Broadcast(m.roomID, "penalty_applied", payload{
		"userId":        o.PlayerID,
		"type":          string(o.Type),
		"penaltyPoints": o.PenaltyPoints,
	})
	m.broadcaster.Broadcast(m.roomID, "overtime_granted", payload{"userId": o.PlayerID})

	if o.Forfeit {
		m.forfeitAgainst(o.PlayerID)
	}
}

// forfeitAgainst ends the match on a penalty forfeit against offenderID,
// awarding the opponent a 100/0 verdict.
func (m *Match) forfeitAgainst(offenderID string) {
	m.endedByPenalty = true
	m.phase = PhasePenaltyTerminal

	logging.LogMatchEvent("penalty_forfeit", m.roomID, map[string]interface{}{"kind": errkind.PenaltyForfeit, "offender": offenderID})

	winner := m.opponent(offenderID)

	v := Verdict{WinnerUserID: winner.UserID}
	if winner.Position == types.PositionAgree {
		v.AgreeScore, v.DisagreeScore = 100, 0
	} else {
		v.AgreeScore, v.DisagreeScore = 0, 100
	}

	m.log.Append(msglog.Message{
		Sender:      types.SenderJudge,
		Text:        fmt.Sprintf("Match ended by penalty forfeit against %s.", offenderID),
		TimestampMs: m.clock.Now(),
	})
	m.broadcaster.Broadcast(m.roomID, "messages_updated", payload{"messages": m.messagesPayload()})

	m.broadcaster.Broadcast(m.roomID, "battle_result", payload{
		"winnerUserId":  v.WinnerUserID,
		"agreeScore":    v.AgreeScore,
		"disagreeScore": v.DisagreeScore,
		"blended":       false,
	})

	m.persistAndRate(v, offenderID)
	m.teardown()
}

// --- Referee actions ---

func (m *Match) RefereeAddPoints(targetUserID string, n int) {
	m.submit(func() {
		m.timerEn.Penalize(targetUserID, -n)
		m.broadcaster.Broadcast(m.roomID, "time_extended", payload{"userId": targetUserID, "points": n})
	})
}

func (m *Match) RefereeDeductPoints(targetUserID string, n int) {
	m.submit(func() {
		forfeit := m.timerEn.Penalize(targetUserID, n)
		m.broadcaster.Broadcast(m.roomID, "time_reduced", payload{"userId": targetUserID, "points": n})
		if forfeit {
			m.forfeitAgainst(targetUserID)
		}
	})
}

func (m *Match) RefereeExtendTime(targetUserID string, seconds int) {
	m.submit(func() {
		m.timerEn.ExtendTime(targetUserID, seconds)
		m.broadcaster.Broadcast(m.roomID, "time_extended", payload{"userId": targetUserID, "seconds": seconds})
	})
}

func (m *Match) RefereeReduceTime(targetUserID string, seconds int) {
	m.submit(func() {
		m.timerEn.ReduceTime(targetUserID, seconds)
		m.broadcaster.Broadcast(m.roomID, "time_reduced", payload{"userId": targetUserID, "seconds": seconds})
	})
}

// Snapshot returns a consolidated view for room_state_updated / the
// session coordinator's resync path. The timer fields describe the
// current speaker's live budget (spec §4.J); the penalty fields are
// relative to the requesting userID so a reconnecting client always
// sees "my penalties" vs "their penalties" regardless of position.
type Snapshot struct {
	Phase            int
	StageDescription string
	CurrentPlayerID  string
	Messages         []msglog.Message

	RoundTimeRemainingSec int
	TotalTimeRemainingSec int
	OvertimeRemainingSec  int
	IsOvertime            bool

	CallerPenaltyPoints   int
	OpponentPenaltyPoints int
}

func (m *Match) Snapshot(userID string, done chan<- Snapshot) {
	m.submit(func() {
		speaker, hasSpeaker := m.currentSpeaker()

		var pt timer.PlayerTimer
		if hasSpeaker {
			pt = m.timerEn.Snapshot(speaker.UserID)
		}

		done <- Snapshot{
			Phase:            m.phase,
			StageDescription: stageDescription(m.phase),
			CurrentPlayerID:  speaker.UserID,
			Messages:         m.log.Snapshot(),

			RoundTimeRemainingSec: pt.RoundTimeRemainingSec,
			TotalTimeRemainingSec: pt.TotalTimeRemainingSec,
			OvertimeRemainingSec:  pt.OvertimeRemainingSec,
			IsOvertime:            pt.IsOvertime,

			CallerPenaltyPoints:   m.timerEn.Snapshot(userID).PenaltyPoints,
			OpponentPenaltyPoints: m.timerEn.Snapshot(m.opponent(userID).UserID).PenaltyPoints,
		}
	})
}
