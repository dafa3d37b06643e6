// Package ledger owns vote records. It is the only writer of votes and keeps
// exactly one vote per (member, motion) pair.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-vote/internal/intent"
	"github.com/loqalabs/loqa-vote/internal/keylock"
	"github.com/loqalabs/loqa-vote/internal/model"
)

// DefaultMaxRetries bounds how often an insert conflict is retried.
const DefaultMaxRetries = 5

// Store is the persistence surface the ledger depends on.
type Store interface {
	FindMember(ctx context.Context, id string) (model.Member, error)
	FindMotion(ctx context.Context, id string) (model.Motion, error)
	FindVote(ctx context.Context, memberID, motionID string) (model.Vote, error)
	InsertVote(ctx context.Context, vote model.Vote) error
	UpdateVote(ctx context.Context, vote model.Vote) error
}

type pairKey struct {
	memberID string
	motionID string
}

type Ledger struct {
	store      Store
	locks      keylock.Map[pairKey]
	log        *slog.Logger
	clock      func() time.Time
	newID      func() string
	maxRetries int
}

func New(store Store, maxRetries int, logger *slog.Logger) *Ledger {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Ledger{
		store:      store,
		log:        logger.With(slog.String("component", "ledger")),
		clock:      time.Now,
		newID:      uuid.NewString,
		maxRetries: maxRetries,
	}
}

// RecordVote upserts the vote for the pair. Calls for the same pair are
// serialized; calls for different pairs run in parallel.
func (l *Ledger) RecordVote(ctx context.Context, memberID, motionID string, decided intent.Intent, evidence []byte) (model.Vote, error) {
	if !decided.Decisive() {
		return model.Vote{}, fmt.Errorf("%w: %s", intent.ErrInvalidIntent, decided)
	}
	if _, err := l.store.FindMember(ctx, memberID); err != nil {
		return model.Vote{}, fmt.Errorf("member %s: %w", memberID, err)
	}
	if _, err := l.store.FindMotion(ctx, motionID); err != nil {
		return model.Vote{}, fmt.Errorf("motion %s: %w", motionID, err)
	}

	unlock := l.locks.Lock(pairKey{memberID: memberID, motionID: motionID})
	defer unlock()

	for attempt := 0; ; attempt++ {
		vote, err := l.upsert(ctx, memberID, motionID, decided, evidence)
		if !errors.Is(err, model.ErrConflict) {
			return vote, err
		}
		if attempt >= l.maxRetries {
			return model.Vote{}, fmt.Errorf("record vote after %d attempts: %v", attempt+1, err)
		}
		l.log.Debug("vote write conflict, retrying",
			slog.String("member_id", memberID),
			slog.String("motion_id", motionID),
			slog.Int("attempt", attempt+1))
		if err := ctx.Err(); err != nil {
			return model.Vote{}, err
		}
	}
}

func (l *Ledger) upsert(ctx context.Context, memberID, motionID string, decided intent.Intent, evidence []byte) (model.Vote, error) {
	now := l.clock().UTC()
	existing, err := l.store.FindVote(ctx, memberID, motionID)
	switch {
	case err == nil:
		existing.Intent = decided
		existing.Evidence = evidence
		existing.Timestamp = now
		if err := l.store.UpdateVote(ctx, existing); err != nil {
			return model.Vote{}, fmt.Errorf("update vote: %w", err)
		}
		return existing, nil
	case errors.Is(err, model.ErrNotFound):
		vote := model.Vote{
			ID:        l.newID(),
			MemberID:  memberID,
			MotionID:  motionID,
			Intent:    decided,
			Timestamp: now,
			Evidence:  evidence,
		}
		if err := l.store.InsertVote(ctx, vote); err != nil {
			return model.Vote{}, fmt.Errorf("insert vote: %w", err)
		}
		return vote, nil
	default:
		return model.Vote{}, fmt.Errorf("find vote: %w", err)
	}
}
