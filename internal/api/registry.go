package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-vote/internal/model"
)

func (h *Handler) listMotions(w http.ResponseWriter, r *http.Request) {
	motions, err := h.registry.ListMotions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, motions)
}

func (h *Handler) activeMotions(w http.ResponseWriter, r *http.Request) {
	motions, err := h.registry.MotionsByStatus(r.Context(), model.MotionActive)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, motions)
}

func (h *Handler) createMotion(w http.ResponseWriter, r *http.Request) {
	var m model.Motion
	if err := decodeBody(w, r, &m); err != nil {
		h.writeError(w, r, err)
		return
	}
	created, err := h.registry.CreateMotion(r.Context(), m)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) getMotion(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.FindMotion(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

// updateMotion applies the fields present in the body over the stored motion.
func (h *Handler) updateMotion(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.FindMotion(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := decodeBody(w, r, &m); err != nil {
		h.writeError(w, r, err)
		return
	}
	m.ID = r.PathValue("id")
	updated, err := h.registry.UpdateMotion(r.Context(), m)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteMotion(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeleteMotion(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updateMotionStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status model.MotionStatus `json:"status"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	m, err := h.registry.UpdateMotionStatus(r.Context(), r.PathValue("id"), body.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

func (h *Handler) updateMotionSummary(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Summary string `json:"summary"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	m, err := h.registry.UpdateMotionSummary(r.Context(), r.PathValue("id"), body.Summary)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

type eventView struct {
	Type      string    `json:"type"`
	MemberID  string    `json:"memberId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handler) motionEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", model.ErrInvalid))
			return
		}
		limit = n
	}
	events, err := h.registry.ListMotionEvents(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]eventView, 0, len(events))
	for _, evt := range events {
		v := eventView{Type: evt.Type, MemberID: evt.MemberID, CreatedAt: evt.CreatedAt}
		if len(evt.Payload) > 0 {
			v.Payload = json.RawMessage(evt.Payload)
		}
		views = append(views, v)
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.registry.ListMembers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, members)
}

func (h *Handler) membersByConstituency(w http.ResponseWriter, r *http.Request) {
	members, err := h.registry.MembersByConstituency(r.Context(), r.PathValue("constituency"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, members)
}

func (h *Handler) createMember(w http.ResponseWriter, r *http.Request) {
	m := model.Member{Active: true}
	if err := decodeBody(w, r, &m); err != nil {
		h.writeError(w, r, err)
		return
	}
	created, err := h.registry.CreateMember(r.Context(), m)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) getMember(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.FindMember(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

func (h *Handler) updateMember(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.FindMember(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := decodeBody(w, r, &m); err != nil {
		h.writeError(w, r, err)
		return
	}
	m.ID = r.PathValue("id")
	updated, err := h.registry.UpdateMember(r.Context(), m)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteMember(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeleteMember(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
