package intent

import (
	"errors"
	"fmt"
)

// DefaultThreshold is the minimum fused confidence for a vote to be accepted.
const DefaultThreshold = 0.7

var (
	ErrVoteIntentUnclear = errors.New("vote intent unclear")
	ErrInvalidIntent     = errors.New("invalid vote intent")
)

// RejectionError describes a fused result that did not pass the gate.
// It unwraps to ErrVoteIntentUnclear or ErrInvalidIntent.
type RejectionError struct {
	Kind      error
	Result    Result
	Threshold float64
}

func (e *RejectionError) Error() string {
	if errors.Is(e.Kind, ErrVoteIntentUnclear) {
		return fmt.Sprintf("%s: confidence %.2f below %.2f", e.Kind, e.Result.Confidence, e.Threshold)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Result.Intent)
}

func (e *RejectionError) Unwrap() error {
	return e.Kind
}

// Gate accepts fused results whose confidence reaches Threshold.
type Gate struct {
	Threshold float64
}

// NewGate returns a gate with the given threshold, or DefaultThreshold when
// threshold is not positive.
func NewGate(threshold float64) Gate {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Gate{Threshold: threshold}
}

// Decide returns the intent to record, or a *RejectionError.
func (g Gate) Decide(r Result) (Intent, error) {
	if r.Confidence < g.Threshold {
		return Unclear, &RejectionError{Kind: ErrVoteIntentUnclear, Result: r, Threshold: g.Threshold}
	}
	if !r.Intent.Decisive() {
		return Unclear, &RejectionError{Kind: ErrInvalidIntent, Result: r, Threshold: g.Threshold}
	}
	return r.Intent, nil
}
