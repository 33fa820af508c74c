// Package fraud implements the synchronous risk evaluator that gates the
// transaction engine. All checks run before any balance mutation and never
// while an account lock is held.
package fraud

import "github.com/shopspring/decimal"

var (
	// maxScore caps the accumulated risk score.
	maxScore = decimal.NewFromInt(1)
	// failThreshold is the accumulated score at which an attempt stops
	// passing (it may still proceed, flagged, unless hard-blocked).
	failThreshold = decimal.RequireFromString("0.70")
	// hardBlockWeight marks rules whose single violation blocks the attempt.
	hardBlockWeight = decimal.NewFromInt(1)
)

// Verdict is the outcome of one risk evaluation. It is computed exactly once
// per attempt, before any mutation, and is never re-derived. Blocked is
// stronger than !Passed: blocked attempts never produce a transaction record.
type Verdict struct {
	Passed  bool
	Score   decimal.Decimal
	Reasons []string
	Blocked bool
}

func newVerdict() *Verdict {
	return &Verdict{Passed: true, Score: decimal.Zero}
}

// addRisk accumulates a rule violation: score grows by weight (capped at 1.0)
// and the attempt stops passing once the score reaches the fail threshold.
func (v *Verdict) addRisk(weight decimal.Decimal, reason string) {
	v.Score = v.Score.Add(weight)
	if v.Score.GreaterThan(maxScore) {
		v.Score = maxScore
	}
	v.Reasons = append(v.Reasons, reason)
	if v.Score.GreaterThanOrEqual(failThreshold) {
		v.Passed = false
	}
}
