// Package elo computes the rating update applied once at match end. The
// K-factor is not the classical constant-K formula: it follows a continuous
// logistic curve so high-rated players converge slower than new ones
// without a hard rating-band cutoff.
package elo

import "math"

const (
	kMax      = 35.0115796
	kMidpoint = 1930.63327881
	kSpread   = 240.64853294
	kMin      = 9.99989887
)

// kFactor returns the K-factor for a player at rating r.
func kFactor(r float64) float64 {
	return kMax/(1+math.Exp((r-kMidpoint)/kSpread)) + kMin
}

// expectedScore is the standard logistic win probability of a player rated
// ra against an opponent rated rb.
func expectedScore(ra, rb float64) float64 {
	return 1 / (1 + math.Pow(10, (rb-ra)/400))
}

// Result is the outcome fed into Update for one side of a match.
// Score is 1 for a win, 0 for a loss, 0.5 for a draw.
type Result struct {
	Rating float64
	Score  float64
}

// Update returns the new rating for a player given their pre-match rating,
// their opponent's pre-match rating, and their match score. The result is
// not rounded; callers persisting to an integer column should round at
// that boundary, not here.
func Update(self, opponent Result) float64 {
	expected := expectedScore(self.Rating, opponent.Rating)
	k := kFactor(self.Rating)
	return self.Rating + k*(self.Score-expected)
}

// RoundHalfToEven rounds r to the nearest integer using banker's rounding,
// for gateways whose schema stores rating as an integer column.
func RoundHalfToEven(r float64) int64 {
	return int64(math.RoundToEven(r))
}
