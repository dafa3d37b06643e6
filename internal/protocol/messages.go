// Package protocol defines the JSON payloads exchanged over HTTP, the
// websocket gateway and the NATS bus.
package protocol

import (
	"errors"
	"net/http"

	"github.com/loqalabs/loqa-vote/internal/intent"
	"github.com/loqalabs/loqa-vote/internal/model"
	"github.com/loqalabs/loqa-vote/internal/stt"
)

const (
	SubjectCastVote      = "vote.cast"
	SubjectTallyPrefix   = "vote.tally"
	SubjectSessionPrefix = "vote.session"
)

// CastVoteRequest carries raw audio; []byte travels as base64.
type CastVoteRequest struct {
	VoiceData []byte `json:"voiceData"`
	MotionID  string `json:"motionId"`
	MemberID  string `json:"memberId"`
}

type CastVoteReply struct {
	Vote  *model.Vote `json:"vote,omitempty"`
	Error *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody is the wire form of a failed operation. Result is set for
// rejected votes so the caller can see the fused intent and confidence.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Result  *intent.Result `json:"result,omitempty"`
}

const (
	CodeInvalidRequest      = "invalid_request"
	CodeNotFound            = "not_found"
	CodeConflict            = "conflict"
	CodeMotionInactive      = "motion_inactive"
	CodeVoteIntentUnclear   = "vote_intent_unclear"
	CodeInvalidIntent       = "invalid_intent"
	CodeTranscriptionFailed = "transcription_failed"
	CodeInternal            = "internal"
)

// ErrorFor classifies err into a wire error.
func ErrorFor(err error) *ErrorBody {
	body := &ErrorBody{Code: CodeInternal, Message: err.Error()}
	var rejection *intent.RejectionError
	switch {
	case errors.As(err, &rejection):
		result := rejection.Result
		body.Result = &result
		body.Code = CodeInvalidIntent
		if errors.Is(err, intent.ErrVoteIntentUnclear) {
			body.Code = CodeVoteIntentUnclear
		}
	case errors.Is(err, intent.ErrInvalidIntent):
		body.Code = CodeInvalidIntent
	case errors.Is(err, model.ErrNotFound):
		body.Code = CodeNotFound
	case errors.Is(err, model.ErrMotionInactive):
		body.Code = CodeMotionInactive
	case errors.Is(err, model.ErrInvalid):
		body.Code = CodeInvalidRequest
	case errors.Is(err, model.ErrConflict):
		body.Code = CodeConflict
	case errors.Is(err, stt.ErrTranscriptionFailed):
		body.Code = CodeTranscriptionFailed
	default:
		body.Message = "internal error"
	}
	return body
}

// HTTPStatus maps the error code onto a response status.
func (e *ErrorBody) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeMotionInactive:
		return http.StatusConflict
	case CodeVoteIntentUnclear, CodeInvalidIntent:
		return http.StatusUnprocessableEntity
	case CodeTranscriptionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
