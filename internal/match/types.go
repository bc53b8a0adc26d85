package match

import (
	"github.com/neo/debatematch_backend/internal/judge"
	"github.com/neo/debatematch_backend/internal/types"
)

// Phase indices per the nine-phase protocol, plus the two sentinels.
const (
	PhaseOpening          = 0
	PhaseAgreeOpening      = 1
	PhaseDisagreeOpening   = 2
	PhaseDisagreeQuestion  = 3
	PhaseAgreeAnswerQ1     = 4
	PhaseDisagreeAnswerQ1  = 5
	PhaseAgreeAnswerQ2     = 6
	PhaseDisagreeAnswer    = 7
	PhaseAgreeClosing      = 8
	PhaseDisagreeClosing   = 9
	PhaseEvaluation        = 10
	PhasePenaltyTerminal   = 11
)

// speakerByPhase maps a phase to the Position that must speak in it.
// Phase 0 (Opening) and 10 (Evaluation) have no player speaker.
var speakerByPhase = map[int]types.Position{
	PhaseAgreeOpening:     types.PositionAgree,
	PhaseDisagreeOpening:  types.PositionDisagree,
	PhaseDisagreeQuestion: types.PositionDisagree,
	PhaseAgreeAnswerQ1:    types.PositionAgree,
	PhaseDisagreeAnswerQ1: types.PositionDisagree,
	PhaseAgreeAnswerQ2:    types.PositionAgree,
	PhaseDisagreeAnswer:   types.PositionDisagree,
	PhaseAgreeClosing:     types.PositionAgree,
	PhaseDisagreeClosing:  types.PositionDisagree,
}

var stageDescriptions = map[int]string{
	PhaseOpening:          "Waiting for both debaters to enter the discussion room",
	PhaseAgreeOpening:     "Agree side opening statement",
	PhaseDisagreeOpening:  "Disagree side opening statement",
	PhaseDisagreeQuestion: "Disagree side cross-examination",
	PhaseAgreeAnswerQ1:    "Agree side answer and counter-question",
	PhaseDisagreeAnswerQ1: "Disagree side answer and counter-question",
	PhaseAgreeAnswerQ2:    "Agree side answer and counter-question",
	PhaseDisagreeAnswer:   "Disagree side answer",
	PhaseAgreeClosing:     "Agree side closing statement",
	PhaseDisagreeClosing:  "Disagree side closing statement",
	PhaseEvaluation:       "Judge evaluation in progress",
	PhasePenaltyTerminal:  "Match ended by penalty forfeit",
}

func stageDescription(phase int) string {
	if d, ok := stageDescriptions[phase]; ok {
		return d
	}
	return ""
}

// DiscussionEntry is one player turn recorded against the transcript the
// judge evaluates at phase 10.
type DiscussionEntry struct {
	UserID string
	Text   string
	Phase  int
}

// Player pairs a userID with its debate Position within one match.
type Player struct {
	UserID      string
	DisplayName string
	Position    types.Position
}

// Scores is a referee's raw 0-100 submission for both sides.
type Scores struct {
	Agree    int
	Disagree int
}

// Verdict is the final, possibly-blended evaluation of a finished match.
type Verdict struct {
	AgreeScore    int
	DisagreeScore int
	WinnerUserID  string
	Blended       bool
}

func verdictFromJudge(v *judge.Verdict, agree, disagree Player) Verdict {
	winner := agree.UserID
	if v.WinnerSide == "disagree" {
		winner = disagree.UserID
	}
	return Verdict{
		AgreeScore:    v.Agree.Score,
		DisagreeScore: v.Disagree.Score,
		WinnerUserID:  winner,
	}
}
