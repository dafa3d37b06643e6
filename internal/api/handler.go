// Package api exposes the voting service and the member and motion registry
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/loqalabs/loqa-vote/internal/model"
	"github.com/loqalabs/loqa-vote/internal/protocol"
	"github.com/loqalabs/loqa-vote/internal/store"
	"github.com/loqalabs/loqa-vote/internal/tally"
)

const maxBodyBytes = 16 << 20

type Voting interface {
	CastVote(ctx context.Context, memberID, motionID string, audio []byte) (model.Vote, error)
	GetStatistics(ctx context.Context, motionID string) (tally.Snapshot, error)
	EnsureActive(ctx context.Context, motionID string) error
	OpenSession(ctx context.Context, motionID string) (model.Motion, error)
	CloseSession(ctx context.Context, motionID string) (model.Motion, error)
}

type Registry interface {
	CreateMember(ctx context.Context, m model.Member) (model.Member, error)
	FindMember(ctx context.Context, id string) (model.Member, error)
	ListMembers(ctx context.Context) ([]model.Member, error)
	MembersByConstituency(ctx context.Context, constituency string) ([]model.Member, error)
	UpdateMember(ctx context.Context, m model.Member) (model.Member, error)
	DeleteMember(ctx context.Context, id string) error

	CreateMotion(ctx context.Context, m model.Motion) (model.Motion, error)
	FindMotion(ctx context.Context, id string) (model.Motion, error)
	ListMotions(ctx context.Context) ([]model.Motion, error)
	MotionsByStatus(ctx context.Context, status model.MotionStatus) ([]model.Motion, error)
	UpdateMotion(ctx context.Context, m model.Motion) (model.Motion, error)
	UpdateMotionStatus(ctx context.Context, id string, status model.MotionStatus) (model.Motion, error)
	UpdateMotionSummary(ctx context.Context, id, summary string) (model.Motion, error)
	DeleteMotion(ctx context.Context, id string) error

	ListMotionEvents(ctx context.Context, motionID string, limit int) ([]store.Event, error)
}

type Options struct {
	RequireActiveMotion bool
}

type Handler struct {
	voting   Voting
	registry Registry
	opts     Options
	logger   *slog.Logger
}

func NewHandler(voting Voting, registry Registry, opts Options, logger *slog.Logger) *Handler {
	return &Handler{
		voting:   voting,
		registry: registry,
		opts:     opts,
		logger:   logger.With(slog.String("component", "api")),
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /voting/cast-vote", h.castVote)
	mux.HandleFunc("GET /voting/statistics/{motionId}", h.statistics)

	mux.HandleFunc("GET /motions", h.listMotions)
	mux.HandleFunc("POST /motions", h.createMotion)
	mux.HandleFunc("GET /motions/active/all", h.activeMotions)
	mux.HandleFunc("GET /motions/{id}", h.getMotion)
	mux.HandleFunc("PUT /motions/{id}", h.updateMotion)
	mux.HandleFunc("DELETE /motions/{id}", h.deleteMotion)
	mux.HandleFunc("PUT /motions/{id}/status", h.updateMotionStatus)
	mux.HandleFunc("POST /motions/{id}/summary", h.updateMotionSummary)
	mux.HandleFunc("POST /motions/{id}/session/{action}", h.session)
	mux.HandleFunc("GET /motions/{id}/events", h.motionEvents)

	mux.HandleFunc("GET /members", h.listMembers)
	mux.HandleFunc("POST /members", h.createMember)
	mux.HandleFunc("GET /members/constituency/{constituency}", h.membersByConstituency)
	mux.HandleFunc("GET /members/{id}", h.getMember)
	mux.HandleFunc("PUT /members/{id}", h.updateMember)
	mux.HandleFunc("DELETE /members/{id}", h.deleteMember)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", slogError(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := protocol.ErrorFor(err)
	status := body.HTTPStatus()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slogError(err))
	}
	h.writeJSON(w, status, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", model.ErrInvalid)
		}
		return fmt.Errorf("%w: %v", model.ErrInvalid, err)
	}
	return nil
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
