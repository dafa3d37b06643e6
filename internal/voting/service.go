// Package voting turns a spoken utterance into a recorded vote and keeps the
// motion's watchers informed.
package voting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-vote/internal/classifier"
	"github.com/loqalabs/loqa-vote/internal/config"
	"github.com/loqalabs/loqa-vote/internal/intent"
	"github.com/loqalabs/loqa-vote/internal/keylock"
	"github.com/loqalabs/loqa-vote/internal/model"
	"github.com/loqalabs/loqa-vote/internal/store"
	"github.com/loqalabs/loqa-vote/internal/stt"
	"github.com/loqalabs/loqa-vote/internal/tally"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const instrumentation = "github.com/loqalabs/loqa-vote/internal/voting"

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

type Recorder interface {
	RecordVote(ctx context.Context, memberID, motionID string, decided intent.Intent, evidence []byte) (model.Vote, error)
}

type Tallier interface {
	Compute(ctx context.Context, motionID string) (tally.Snapshot, error)
}

type Publisher interface {
	PublishTally(motionID string, snap tally.Snapshot)
	PublishSessionState(motionID string, active bool)
}

type Motions interface {
	FindMotion(ctx context.Context, id string) (model.Motion, error)
	UpdateMotionStatus(ctx context.Context, id string, status model.MotionStatus) (model.Motion, error)
}

// Auditor records the vote timeline. It is optional.
type Auditor interface {
	AppendEvent(ctx context.Context, evt store.Event) error
}

type Deps struct {
	Transcriber Transcriber
	Classifier  classifier.Classifier
	Ledger      Recorder
	Tally       Tallier
	Hub         Publisher
	Motions     Motions
	Audit       Auditor
}

type Service struct {
	deps              Deps
	gate              intent.Gate
	classifierTimeout time.Duration
	keepEvidence      bool
	logger            *slog.Logger

	// publishing holds one lock per motion so a snapshot is never broadcast
	// after a newer one.
	publishing keylock.Map[string]

	tracer   trace.Tracer
	casts    metric.Int64Counter
	duration metric.Float64Histogram
}

func NewService(cfg config.VotingConfig, classifierTimeout time.Duration, deps Deps, logger *slog.Logger) *Service {
	if deps.Classifier == nil {
		deps.Classifier = classifier.Disabled{}
	}
	s := &Service{
		deps:              deps,
		gate:              intent.NewGate(cfg.ConfidenceThreshold),
		classifierTimeout: classifierTimeout,
		keepEvidence:      cfg.KeepEvidence,
		logger:            logger.With(slog.String("component", "voting")),
		tracer:            otel.Tracer(instrumentation),
	}
	meter := otel.Meter(instrumentation)
	var err error
	if s.casts, err = meter.Int64Counter("voting.casts",
		metric.WithDescription("Cast attempts by outcome")); err != nil {
		s.logger.Warn("failed to create casts counter", slogError(err))
	}
	if s.duration, err = meter.Float64Histogram("voting.cast.duration",
		metric.WithUnit("ms")); err != nil {
		s.logger.Warn("failed to create duration histogram", slogError(err))
	}
	return s
}

// CastVote transcribes audio, decides the intent and records the vote. A
// rejected utterance returns a *intent.RejectionError and leaves the ledger
// untouched. Failing to recompute the tally after a successful write is
// logged and only skips the broadcast.
func (s *Service) CastVote(ctx context.Context, memberID, motionID string, audio []byte) (vote model.Vote, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "voting.CastVote", trace.WithAttributes(
		attribute.String("member_id", memberID),
		attribute.String("motion_id", motionID),
	))
	defer func() {
		outcome := outcomeOf(err)
		span.SetAttributes(attribute.String("outcome", outcome))
		if err != nil && outcome == "error" {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.observe(ctx, outcome, start)
	}()

	text, err := s.deps.Transcriber.Transcribe(ctx, audio)
	if err != nil {
		return model.Vote{}, err
	}

	fused := s.classify(ctx, text)
	span.SetAttributes(
		attribute.String("intent", string(fused.Intent)),
		attribute.Float64("confidence", fused.Confidence),
	)

	decided, err := s.gate.Decide(fused)
	if err != nil {
		s.audit(ctx, store.EventVoteRejected, motionID, memberID, auditPayload{
			Transcript: text, Intent: fused.Intent, Confidence: fused.Confidence, Reason: err.Error(),
		})
		s.logger.Info("vote rejected",
			slog.String("member_id", memberID),
			slog.String("motion_id", motionID),
			slog.String("intent", string(fused.Intent)),
			slog.Float64("confidence", fused.Confidence))
		return model.Vote{}, err
	}

	var evidence []byte
	if s.keepEvidence {
		evidence = audio
	}
	vote, err = s.deps.Ledger.RecordVote(ctx, memberID, motionID, decided, evidence)
	if err != nil {
		return model.Vote{}, err
	}
	s.audit(ctx, store.EventVoteRecorded, motionID, memberID, auditPayload{
		VoteID: vote.ID, Transcript: text, Intent: vote.Intent, Confidence: fused.Confidence,
	})
	s.logger.Info("vote recorded",
		slog.String("vote_id", vote.ID),
		slog.String("member_id", memberID),
		slog.String("motion_id", motionID),
		slog.String("intent", string(vote.Intent)))

	s.publishTally(ctx, motionID)
	return vote, nil
}

func (s *Service) publishTally(ctx context.Context, motionID string) {
	unlock := s.publishing.Lock(motionID)
	defer unlock()

	snap, err := s.deps.Tally.Compute(ctx, motionID)
	if err != nil {
		s.logger.Warn("tally recompute failed, skipping broadcast",
			slog.String("motion_id", motionID), slogError(err))
		return
	}
	s.deps.Hub.PublishTally(motionID, snap)
}

// classify runs the lexical scorer and the semantic classifier concurrently
// and fuses their results. The semantic side never fails the cast: errors
// and timeouts count as intent.Unavailable.
func (s *Service) classify(ctx context.Context, text string) intent.Result {
	ctx, span := s.tracer.Start(ctx, "voting.classify")
	defer span.End()

	var lexical, semantic intent.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexical = intent.Score(text)
		return nil
	})
	g.Go(func() error {
		semantic = s.semantic(gctx, text)
		return nil
	})
	_ = g.Wait()

	span.SetAttributes(
		attribute.String("lexical.intent", string(lexical.Intent)),
		attribute.Float64("lexical.confidence", lexical.Confidence),
		attribute.String("semantic.intent", string(semantic.Intent)),
		attribute.Float64("semantic.confidence", semantic.Confidence),
	)
	return intent.Fuse(lexical, semantic)
}

type classified struct {
	result intent.Result
	err    error
}

func (s *Service) semantic(ctx context.Context, text string) intent.Result {
	if s.classifierTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.classifierTimeout)
		defer cancel()
	}

	done := make(chan classified, 1)
	go func() {
		res, err := s.deps.Classifier.Classify(ctx, text)
		done <- classified{result: res, err: err}
	}()

	select {
	case c := <-done:
		if c.err != nil {
			s.logger.Debug("semantic classifier unavailable", slogError(c.err))
			return intent.Unavailable
		}
		return c.result.Normalize()
	case <-ctx.Done():
		s.logger.Debug("semantic classifier timed out", slogError(ctx.Err()))
		return intent.Unavailable
	}
}

// GetStatistics returns the current tally of a motion. Unknown motions yield
// an empty snapshot.
func (s *Service) GetStatistics(ctx context.Context, motionID string) (tally.Snapshot, error) {
	return s.deps.Tally.Compute(ctx, motionID)
}

// EnsureActive reports model.ErrMotionInactive unless the motion's voting
// session is open.
func (s *Service) EnsureActive(ctx context.Context, motionID string) error {
	motion, err := s.deps.Motions.FindMotion(ctx, motionID)
	if err != nil {
		return fmt.Errorf("motion %s: %w", motionID, err)
	}
	if motion.Status != model.MotionActive {
		return fmt.Errorf("motion %s is %s: %w", motionID, motion.Status, model.ErrMotionInactive)
	}
	return nil
}

// OpenSession marks the motion active and announces it to watchers.
func (s *Service) OpenSession(ctx context.Context, motionID string) (model.Motion, error) {
	return s.setSession(ctx, motionID, true)
}

// CloseSession marks the motion completed and announces it to watchers.
func (s *Service) CloseSession(ctx context.Context, motionID string) (model.Motion, error) {
	return s.setSession(ctx, motionID, false)
}

func (s *Service) setSession(ctx context.Context, motionID string, active bool) (model.Motion, error) {
	status, evt := model.MotionCompleted, store.EventSessionClose
	if active {
		status, evt = model.MotionActive, store.EventSessionOpen
	}
	motion, err := s.deps.Motions.UpdateMotionStatus(ctx, motionID, status)
	if err != nil {
		return model.Motion{}, fmt.Errorf("motion %s: %w", motionID, err)
	}
	s.audit(ctx, evt, motionID, "", nil)
	s.deps.Hub.PublishSessionState(motionID, active)
	s.logger.Info("voting session updated",
		slog.String("motion_id", motionID),
		slog.Bool("active", active))
	return motion, nil
}

type auditPayload struct {
	VoteID     string        `json:"vote_id,omitempty"`
	Transcript string        `json:"transcript,omitempty"`
	Intent     intent.Intent `json:"intent,omitempty"`
	Confidence float64       `json:"confidence"`
	Reason     string        `json:"reason,omitempty"`
}

func (s *Service) audit(ctx context.Context, eventType, motionID, memberID string, payload any) {
	if s.deps.Audit == nil {
		return
	}
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			s.logger.Warn("failed to encode audit payload", slogError(err))
			return
		}
	}
	err := s.deps.Audit.AppendEvent(ctx, store.Event{
		MotionID: motionID,
		MemberID: memberID,
		Type:     eventType,
		Payload:  data,
	})
	if err != nil {
		s.logger.Warn("failed to append audit event",
			slog.String("type", eventType),
			slog.String("motion_id", motionID),
			slogError(err))
	}
}

func (s *Service) observe(ctx context.Context, outcome string, start time.Time) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if s.casts != nil {
		s.casts.Add(ctx, 1, attrs)
	}
	if s.duration != nil {
		s.duration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	}
}

func outcomeOf(err error) string {
	var rejection *intent.RejectionError
	switch {
	case err == nil:
		return "recorded"
	case errors.As(err, &rejection):
		return "rejected"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, stt.ErrTranscriptionFailed):
		return "transcription_failed"
	default:
		return "error"
	}
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
