// Package timer drives the once-per-second budget accounting for the
// player currently speaking in a match: round time, cumulative match time,
// and an overtime allowance granted on every budget overflow (round or
// match-total) together with the penalty.
package timer

import (
	"sync"
	"time"

	"github.com/neo/debatematch_backend/internal/clock"
	"github.com/neo/debatematch_backend/internal/logging"
	"github.com/neo/debatematch_backend/internal/types"
)

const (
	RoundLimitMs    = 120000
	TotalLimitMs    = 300000
	OvertimeLimitMs = 30000
	PenaltyStep     = 3
	PenaltyMax      = 18
)

// PlayerBudget tracks one player's accumulated usage and penalty state.
// The Engine owns and mutates these; callers read a copy via Snapshot.
type PlayerBudget struct {
	TotalTimeUsedMs   int64
	PenaltyPoints     int
	PenaltyCount      int
	IsOvertime        bool
	OvertimeStartedAt int64
}

// Update is the per-tick broadcast payload for the currently speaking player.
type Update struct {
	CurrentPlayerID        string
	RoundTimeRemainingSec  int
	TotalTimeRemainingSec  int
	IsOvertime             bool
	OvertimeRemainingSec   int
	RoundLimitSec          int
	TotalLimitSec          int
}

// PlayerTimer is the synchronous, on-demand view of one player's live
// timer/penalty state, used by a resync snapshot rather than the 1s
// ticker broadcast.
type PlayerTimer struct {
	RoundTimeRemainingSec int
	TotalTimeRemainingSec int
	OvertimeRemainingSec  int
	IsOvertime            bool
	PenaltyPoints         int
}

// Overflow is emitted when a budget is exhausted.
type Overflow struct {
	PlayerID      string
	Type          types.OverflowType
	PenaltyPoints int
	Forfeit       bool
}

// Engine runs the single logical per-match ticker. It has no knowledge of
// match phases; the owning match goroutine calls StartTurn/StopTurn around
// each speaker's turn and reads off the Updates()/Overflows() channels.
type Engine struct {
	clock clock.Clock

	mu                sync.Mutex
	budgets           map[string]*PlayerBudget
	currentPlayerID   string
	turnStartedAt     int64
	running           bool

	ticker   *time.Ticker
	stopCh   chan struct{}
	updates  chan Update
	overflow chan Overflow
}

// New creates an Engine driven by the given clock (clock.New() in
// production, a clock.FakeClock in tests).
func New(c clock.Clock) *Engine {
	return &Engine{
		clock:    c,
		budgets:  make(map[string]*PlayerBudget),
		updates:  make(chan Update, 16),
		overflow: make(chan Overflow, 16),
	}
}

// Updates exposes the per-tick broadcast channel.
func (e *Engine) Updates() <-chan Update {
	return e.updates
}

// Overflows exposes the overflow/penalty channel.
func (e *Engine) Overflows() <-chan Overflow {
	return e.overflow
}

func (e *Engine) budgetFor(playerID string) *PlayerBudget {
	b, ok := e.budgets[playerID]
	if !ok {
		b = &PlayerBudget{}
		e.budgets[playerID] = b
	}
	return b
}

// StartTurn zeroes round usage for player and begins ticking on their behalf.
func (e *Engine) StartTurn(playerID string) {
	e.mu.Lock()
	e.currentPlayerID = playerID
	e.turnStartedAt = e.clock.Now()
	e.budgetFor(playerID)
	e.mu.Unlock()

	logging.LogTimerEvent("turn_started", "", map[string]interface{}{"player_id": playerID})
	e.ensureTicking()
}

// StopTurn absorbs elapsed round time into the player's cumulative usage
// and clears the active turn. Called at the end of a speaker's message.
func (e *Engine) StopTurn() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.currentPlayerID == "" {
		return
	}
	elapsed := e.clock.Now() - e.turnStartedAt
	b := e.budgetFor(e.currentPlayerID)
	b.TotalTimeUsedMs += elapsed
	e.currentPlayerID = ""
	e.turnStartedAt = 0
}

// Penalize applies delta penalty points to target, clamped to [0, PenaltyMax].
// Returns true if the clamped result reached PenaltyMax (a forfeit).
func (e *Engine) Penalize(playerID string, delta int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.budgetFor(playerID)
	b.PenaltyPoints += delta
	if b.PenaltyPoints < 0 {
		b.PenaltyPoints = 0
	}
	if b.PenaltyPoints > PenaltyMax {
		b.PenaltyPoints = PenaltyMax
	}
	return b.PenaltyPoints >= PenaltyMax
}

// ExtendTime subtracts s seconds from target's cumulative used time,
// clamped at 0 (a referee grant of extra time).
func (e *Engine) ExtendTime(playerID string, seconds int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.budgetFor(playerID)
	b.TotalTimeUsedMs -= int64(seconds) * 1000
	if b.TotalTimeUsedMs < 0 {
		b.TotalTimeUsedMs = 0
	}
}

// ReduceTime adds s seconds to target's cumulative used time (a referee
// penalty applied directly to the clock rather than to penalty points).
func (e *Engine) ReduceTime(playerID string, seconds int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.budgetFor(playerID)
	b.TotalTimeUsedMs += int64(seconds) * 1000
}

// Snapshot returns playerID's live timer/penalty state without mutating
// the Engine, serialized through the same lock tick() uses. If playerID
// is the current speaker, round/total/overtime remaining reflect time
// elapsed since StartTurn; otherwise they reflect the player's banked
// state as of their last StopTurn. A playerID the Engine has never seen
// reads as a full, unused budget.
func (e *Engine) Snapshot(playerID string) PlayerTimer {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.budgets[playerID]
	if !ok {
		return PlayerTimer{
			RoundTimeRemainingSec: RoundLimitMs / 1000,
			TotalTimeRemainingSec: TotalLimitMs / 1000,
		}
	}

	now := e.clock.Now()
	totalUsed := b.TotalTimeUsedMs
	var roundUsed int64
	if playerID == e.currentPlayerID {
		roundUsed = now - e.turnStartedAt
		totalUsed += roundUsed
	}

	roundRemaining := RoundLimitMs - roundUsed
	if roundRemaining < 0 {
		roundRemaining = 0
	}
	totalRemaining := TotalLimitMs - totalUsed
	if totalRemaining < 0 {
		totalRemaining = 0
	}

	var overtimeRemaining int64
	if b.IsOvertime {
		overtimeRemaining = OvertimeLimitMs - (now - b.OvertimeStartedAt)
		if overtimeRemaining < 0 {
			overtimeRemaining = 0
		}
	}

	return PlayerTimer{
		RoundTimeRemainingSec: int(roundRemaining / 1000),
		TotalTimeRemainingSec: int(totalRemaining / 1000),
		OvertimeRemainingSec:  int(overtimeRemaining / 1000),
		IsOvertime:            b.IsOvertime,
		PenaltyPoints:         b.PenaltyPoints,
	}
}

func (e *Engine) ensureTicking() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.ticker = time.NewTicker(1 * time.Second)
	e.stopCh = make(chan struct{})
	ticker := e.ticker
	stopCh := e.stopCh
	e.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				e.tick()
			case <-stopCh:
				return
			}
		}
	}()
}

// StopAll halts the ticker goroutine permanently. Called once on match
// teardown.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	e.running = false
	e.ticker.Stop()
	close(e.stopCh)
}

// tick computes one second's worth of remaining-budget arithmetic for the
// current speaker and emits an Update, plus an Overflow if a budget just
// exhausted.
func (e *Engine) tick() {
	e.mu.Lock()

	playerID := e.currentPlayerID
	if playerID == "" {
		e.mu.Unlock()
		return
	}
	b := e.budgetFor(playerID)

	now := e.clock.Now()
	roundUsed := now - e.turnStartedAt
	totalUsed := b.TotalTimeUsedMs + roundUsed

	roundRemaining := RoundLimitMs - roundUsed
	if roundRemaining < 0 {
		roundRemaining = 0
	}
	totalRemaining := TotalLimitMs - totalUsed
	if totalRemaining < 0 {
		totalRemaining = 0
	}

	var overtimeRemaining int64
	if b.IsOvertime {
		overtimeUsed := now - b.OvertimeStartedAt
		overtimeRemaining = OvertimeLimitMs - overtimeUsed
		if overtimeRemaining < 0 {
			overtimeRemaining = 0
		}
	}

	var fired *Overflow
	switch {
	case roundUsed > RoundLimitMs && !b.IsOvertime:
		fired = e.triggerOverflow(playerID, b, types.OverflowRound, now)
	case totalUsed > TotalLimitMs && !b.IsOvertime:
		fired = e.triggerOverflow(playerID, b, types.OverflowTotal, now)
	case b.IsOvertime && overtimeRemaining <= 0:
		// Overtime exhaustion reports as a round overflow: the player is
		// back over their per-turn allotment once the grace period runs out.
		fired = e.triggerOverflow(playerID, b, types.OverflowRound, now)
	}

	update := Update{
		CurrentPlayerID:       playerID,
		RoundTimeRemainingSec: int(roundRemaining / 1000),
		TotalTimeRemainingSec: int(totalRemaining / 1000),
		IsOvertime:            b.IsOvertime,
		OvertimeRemainingSec:  int(overtimeRemaining / 1000),
		RoundLimitSec:         RoundLimitMs / 1000,
		TotalLimitSec:         TotalLimitMs / 1000,
	}
	e.mu.Unlock()

	if fired != nil {
		e.overflow <- *fired
	}
	e.updates <- update
}

// triggerOverflow must be called with e.mu held. It mutates the player's
// penalty/overtime state and returns the Overflow event to emit once the
// lock is released.
func (e *Engine) triggerOverflow(playerID string, b *PlayerBudget, overflowType types.OverflowType, now int64) *Overflow {
	b.PenaltyPoints += PenaltyStep
	if b.PenaltyPoints > PenaltyMax {
		b.PenaltyPoints = PenaltyMax
	}
	b.PenaltyCount++

	forfeit := b.PenaltyPoints >= PenaltyMax

	b.IsOvertime = true
	b.OvertimeStartedAt = now

	logging.LogTimerEvent("overflow", "", map[string]interface{}{
		"player_id":      playerID,
		"overflow_type":  overflowType,
		"penalty_points": b.PenaltyPoints,
		"forfeit":        forfeit,
	})

	return &Overflow{
		PlayerID:      playerID,
		Type:          overflowType,
		PenaltyPoints: b.PenaltyPoints,
		Forfeit:       forfeit,
	}
}
