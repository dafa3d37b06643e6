// Package model holds the records shared by the ledger, the store and the
// transports.
package model

import (
	"errors"
	"time"

	"github.com/loqalabs/loqa-vote/internal/intent"
)

var (
	// ErrNotFound is returned when a member, motion or vote does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert collides with an existing
	// (member, motion) vote written by another writer.
	ErrConflict = errors.New("concurrent write conflict")
	// ErrInvalid is returned when a record is missing required fields.
	ErrInvalid = errors.New("invalid record")
	// ErrMotionInactive is returned by callers that only accept votes while
	// a motion's voting session is open.
	ErrMotionInactive = errors.New("motion is not open for voting")
)

type MotionStatus string

const (
	MotionPending   MotionStatus = "pending"
	MotionActive    MotionStatus = "active"
	MotionCompleted MotionStatus = "completed"
)

func (s MotionStatus) Valid() bool {
	switch s {
	case MotionPending, MotionActive, MotionCompleted:
		return true
	}
	return false
}

type Member struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Constituency string `json:"constituency"`
	Role         string `json:"role"`
	Active       bool   `json:"isActive"`
}

type Motion struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	ProposedBy  string       `json:"proposedBy"`
	ProposedAt  time.Time    `json:"dateProposed"`
	Status      MotionStatus `json:"status"`
	Summary     string       `json:"summary,omitempty"`
}

// Vote is the single authoritative record for a (member, motion) pair.
type Vote struct {
	ID        string        `json:"id"`
	MemberID  string        `json:"memberId"`
	MotionID  string        `json:"motionId"`
	Intent    intent.Intent `json:"vote"`
	Timestamp time.Time     `json:"timestamp"`
	Evidence  []byte        `json:"-"`
}
