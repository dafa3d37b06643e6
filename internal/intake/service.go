// Package intake accepts cast-vote requests from the NATS bus.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-vote/internal/bus"
	"github.com/loqalabs/loqa-vote/internal/config"
	"github.com/loqalabs/loqa-vote/internal/model"
	"github.com/loqalabs/loqa-vote/internal/protocol"
	"github.com/nats-io/nats.go"
)

const (
	queueGroup     = "loqa-vote"
	requestTimeout = 30 * time.Second
)

type Voting interface {
	CastVote(ctx context.Context, memberID, motionID string, audio []byte) (model.Vote, error)
	EnsureActive(ctx context.Context, motionID string) error
}

type Service struct {
	cfg           config.IntakeConfig
	requireActive bool
	bus           *bus.Client
	voting        Voting
	logger        *slog.Logger
	sub           *nats.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewService(parent context.Context, cfg config.IntakeConfig, requireActive bool, busClient *bus.Client, voting Voting, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:           cfg,
		requireActive: requireActive,
		bus:           busClient,
		voting:        voting,
		logger:        logger.With(slog.String("component", "intake")),
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	subject := s.cfg.Subject
	if subject == "" {
		subject = protocol.SubjectCastVote
	}
	sub, err := s.bus.Conn().QueueSubscribe(subject, queueGroup, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.sub = sub
	s.logger.Info("intake listening", slog.String("subject", subject))
	return nil
}

// Close stops accepting requests and waits for in-flight casts to reply.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
	s.cancel()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || (s.sub != nil && s.sub.IsValid())
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.CastVoteRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("intake failed to decode request", slogError(err))
		s.respond(msg, protocol.CastVoteReply{Error: &protocol.ErrorBody{
			Code:    protocol.CodeInvalidRequest,
			Message: "invalid request payload",
		}})
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.respond(msg, protocol.CastVoteReply{Error: &protocol.ErrorBody{
			Code:    protocol.CodeInternal,
			Message: "intake is shutting down",
		}})
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.respond(msg, s.process(req))
	}()
}

func (s *Service) process(req protocol.CastVoteRequest) protocol.CastVoteReply {
	if req.MemberID == "" || req.MotionID == "" {
		return protocol.CastVoteReply{Error: &protocol.ErrorBody{
			Code:    protocol.CodeInvalidRequest,
			Message: "memberId and motionId are required",
		}}
	}
	ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
	defer cancel()

	if s.requireActive {
		if err := s.voting.EnsureActive(ctx, req.MotionID); err != nil {
			return protocol.CastVoteReply{Error: protocol.ErrorFor(err)}
		}
	}
	vote, err := s.voting.CastVote(ctx, req.MemberID, req.MotionID, req.VoiceData)
	if err != nil {
		body := protocol.ErrorFor(err)
		if body.Code == protocol.CodeInternal {
			s.logger.Error("intake cast failed",
				slog.String("member_id", req.MemberID),
				slog.String("motion_id", req.MotionID),
				slogError(err))
		}
		return protocol.CastVoteReply{Error: body}
	}
	return protocol.CastVoteReply{Vote: &vote}
}

func (s *Service) respond(msg *nats.Msg, reply protocol.CastVoteReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("intake failed to encode reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("intake failed to send reply", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
