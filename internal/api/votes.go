package api

import (
	"fmt"
	"net/http"

	"github.com/loqalabs/loqa-vote/internal/model"
	"github.com/loqalabs/loqa-vote/internal/protocol"
)

func (h *Handler) castVote(w http.ResponseWriter, r *http.Request) {
	var req protocol.CastVoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.MemberID == "" || req.MotionID == "" {
		h.writeError(w, r, fmt.Errorf("%w: memberId and motionId are required", model.ErrInvalid))
		return
	}
	if h.opts.RequireActiveMotion {
		if err := h.voting.EnsureActive(r.Context(), req.MotionID); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	vote, err := h.voting.CastVote(r.Context(), req.MemberID, req.MotionID, req.VoiceData)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, vote)
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	snap, err := h.voting.GetStatistics(r.Context(), r.PathValue("motionId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var (
		motion model.Motion
		err    error
	)
	switch r.PathValue("action") {
	case "start":
		motion, err = h.voting.OpenSession(r.Context(), id)
	case "stop":
		motion, err = h.voting.CloseSession(r.Context(), id)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, motion)
}
