// Package intent scores spoken vote transcripts and decides whether the
// resulting intent is strong enough to be recorded.
package intent

import (
	"math"
	"strings"
)

// Intent is the direction a transcript expresses.
type Intent string

const (
	Yes     Intent = "yes"
	No      Intent = "no"
	Unclear Intent = "unclear"
)

// Parse normalizes free-form classifier output. Anything that is not yes or
// no collapses to Unclear.
func Parse(raw string) Intent {
	switch Intent(strings.ToLower(strings.TrimSpace(raw))) {
	case Yes:
		return Yes
	case No:
		return No
	default:
		return Unclear
	}
}

// Decisive reports whether the intent can be stored as a vote.
func (i Intent) Decisive() bool {
	return i == Yes || i == No
}

// Result is the output of a classifier or of fusion.
type Result struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// Unavailable stands in for a semantic classifier that failed or timed out.
var Unavailable = Result{Intent: Unclear, Confidence: 0}

// Normalize clamps confidence into [0, 1] and folds unknown intents to Unclear.
func (r Result) Normalize() Result {
	r.Intent = Parse(string(r.Intent))
	switch {
	case math.IsNaN(r.Confidence) || r.Confidence < 0:
		r.Confidence = 0
	case r.Confidence > 1:
		r.Confidence = 1
	}
	return r
}
