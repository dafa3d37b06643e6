// Package tally projects the current votes of a motion into aggregate counts.
package tally

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-vote/internal/intent"
)

// Counts is the yes/no split for one constituency.
type Counts struct {
	Yes int `json:"yes"`
	No  int `json:"no"`
}

// Snapshot is derived from ledger state at the time it is computed and is
// never stored.
type Snapshot struct {
	Total          int               `json:"total"`
	Yes            int               `json:"yes"`
	No             int               `json:"no"`
	ByConstituency map[string]Counts `json:"byConstituency"`
}

// Ballot is one stored vote joined with its member's constituency.
type Ballot struct {
	Intent       intent.Intent
	Constituency string
}

// Source reads every ballot of a motion in one consistent read.
type Source interface {
	MotionBallots(ctx context.Context, motionID string) ([]Ballot, error)
}

// Compute folds ballots into a snapshot. A constituency appears only once it
// has at least one ballot.
func Compute(ballots []Ballot) Snapshot {
	snap := Snapshot{
		Total:          len(ballots),
		ByConstituency: make(map[string]Counts),
	}
	for _, b := range ballots {
		counts := snap.ByConstituency[b.Constituency]
		switch b.Intent {
		case intent.Yes:
			snap.Yes++
			counts.Yes++
		case intent.No:
			snap.No++
			counts.No++
		}
		snap.ByConstituency[b.Constituency] = counts
	}
	return snap
}

type Aggregator struct {
	source Source
}

func NewAggregator(source Source) *Aggregator {
	return &Aggregator{source: source}
}

// Compute reads the motion's ballots and returns a fresh snapshot.
func (a *Aggregator) Compute(ctx context.Context, motionID string) (Snapshot, error) {
	ballots, err := a.source.MotionBallots(ctx, motionID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read ballots for motion %s: %w", motionID, err)
	}
	return Compute(ballots), nil
}
