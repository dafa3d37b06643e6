package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-vote/internal/classifier"
	"github.com/loqalabs/loqa-vote/internal/config"
	"github.com/loqalabs/loqa-vote/internal/ledger"
	"github.com/loqalabs/loqa-vote/internal/model"
	"github.com/loqalabs/loqa-vote/internal/protocol"
	"github.com/loqalabs/loqa-vote/internal/store"
	"github.com/loqalabs/loqa-vote/internal/stt"
	"github.com/loqalabs/loqa-vote/internal/tally"
	"github.com/loqalabs/loqa-vote/internal/voting"
	"github.com/stretchr/testify/require"
)

type nopHub struct{}

func (nopHub) PublishTally(string, tally.Snapshot) {}
func (nopHub) PublishSessionState(string, bool) {}

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(context.Background(), config.StoreConfig{Path: filepath.Join(t.TempDir(), "api.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc := voting.NewService(config.VotingConfig{ConfidenceThreshold: 0.7}, time.Second, voting.Deps{
		Transcriber: stt.NewTranscriber(stt.NewMockRecognizer(), config.STTConfig{}),
		Classifier:  classifier.Disabled{},
		Ledger:      ledger.New(st, 3, logger),
		Tally:       tally.NewAggregator(st),
		Hub:         nopHub{},
		Motions:     st,
		Audit:       st,
	}, logger)

	mux := http.NewServeMux()
	NewHandler(svc, st, opts, logger).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func seedRegistry(t *testing.T, base string) (model.Member, model.Motion) {
	t.Helper()
	var member model.Member
	status := doJSON(t, http.MethodPost, base+"/members", map[string]any{
		"name": "Ada", "constituency": "North", "role": "MP",
	}, &member)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, member.ID)
	require.True(t, member.Active)

	var motion model.Motion
	status = doJSON(t, http.MethodPost, base+"/motions", map[string]any{
		"title": "Library funding", "description": "Fund the libraries", "proposedBy": member.ID,
	}, &motion)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, model.MotionPending, motion.Status)
	return member, motion
}

func castBody(member model.Member, motion model.Motion, speech string) protocol.CastVoteRequest {
	return protocol.CastVoteRequest{VoiceData: []byte(speech), MotionID: motion.ID, MemberID: member.ID}
}

func TestCastVoteFlow(t *testing.T) {
	srv := newTestServer(t, Options{RequireActiveMotion: true})
	member, motion := seedRegistry(t, srv.URL)

	var errBody protocol.ErrorBody
	status := doJSON(t, http.MethodPost, srv.URL+"/voting/cast-vote", castBody(member, motion, "yes"), &errBody)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, protocol.CodeMotionInactive, errBody.Code)

	var opened model.Motion
	status = doJSON(t, http.MethodPost, srv.URL+"/motions/"+motion.ID+"/session/start", nil, &opened)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, model.MotionActive, opened.Status)

	var vote model.Vote
	status = doJSON(t, http.MethodPost, srv.URL+"/voting/cast-vote", castBody(member, motion, "aye, I approve"), &vote)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, "yes", string(vote.Intent))

	var snap tally.Snapshot
	status = doJSON(t, http.MethodGet, srv.URL+"/voting/statistics/"+motion.ID, nil, &snap)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, tally.Snapshot{Total: 1, Yes: 1, ByConstituency: map[string]tally.Counts{"North": {Yes: 1}}}, snap)

	var active []model.Motion
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/motions/active/all", nil, &active))
	require.Len(t, active, 1)

	var events []struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/motions/"+motion.ID+"/events", nil, &events))
	require.Len(t, events, 2)
	require.Equal(t, store.EventSessionOpen, events[0].Type)
	require.Equal(t, store.EventVoteRecorded, events[1].Type)
	require.Contains(t, string(events[1].Payload), "aye, I approve")

	status = doJSON(t, http.MethodPost, srv.URL+"/motions/"+motion.ID+"/session/stop", nil, &opened)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, model.MotionCompleted, opened.Status)
}

func TestCastVoteErrors(t *testing.T) {
	srv := newTestServer(t, Options{})
	member, motion := seedRegistry(t, srv.URL)
	url := srv.URL + "/voting/cast-vote"

	cases := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"unclear", castBody(member, motion, "um, maybe"), http.StatusUnprocessableEntity, protocol.CodeVoteIntentUnclear},
		{"unknown member", castBody(model.Member{ID: "ghost"}, motion, "yes"), http.StatusNotFound, protocol.CodeNotFound},
		{"no audio", castBody(member, motion, ""), http.StatusBadGateway, protocol.CodeTranscriptionFailed},
		{"missing ids", map[string]string{"voiceData": "eWVz"}, http.StatusBadRequest, protocol.CodeInvalidRequest},
		{"bad json", "{", http.StatusBadRequest, protocol.CodeInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var errBody protocol.ErrorBody
			require.Equal(t, tc.status, doJSON(t, http.MethodPost, url, tc.body, &errBody))
			require.Equal(t, tc.code, errBody.Code)
		})
	}

	var errBody protocol.ErrorBody
	doJSON(t, http.MethodPost, url, castBody(member, motion, "um, maybe"), &errBody)
	require.NotNil(t, errBody.Result)
	require.Equal(t, 0.0, errBody.Result.Confidence)

	var snap tally.Snapshot
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/voting/statistics/"+motion.ID, nil, &snap))
	require.Equal(t, 0, snap.Total)
}

func TestRegistryRoutes(t *testing.T) {
	srv := newTestServer(t, Options{})
	member, motion := seedRegistry(t, srv.URL)

	var updated model.Member
	status := doJSON(t, http.MethodPut, srv.URL+"/members/"+member.ID, map[string]any{"role": "Speaker"}, &updated)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Speaker", updated.Role)
	require.Equal(t, "Ada", updated.Name)

	var north []model.Member
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/members/constituency/North", nil, &north))
	require.Len(t, north, 1)

	var m model.Motion
	status = doJSON(t, http.MethodPut, srv.URL+"/motions/"+motion.ID+"/status", map[string]string{"status": "completed"}, &m)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, model.MotionCompleted, m.Status)

	status = doJSON(t, http.MethodPut, srv.URL+"/motions/"+motion.ID+"/status", map[string]string{"status": "archived"}, nil)
	require.Equal(t, http.StatusBadRequest, status)

	status = doJSON(t, http.MethodPost, srv.URL+"/motions/"+motion.ID+"/summary", map[string]string{"summary": "Passed"}, &m)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Passed", m.Summary)

	status = doJSON(t, http.MethodPut, srv.URL+"/motions/"+motion.ID, map[string]string{"title": "Library funding 2"}, &m)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Library funding 2", m.Title)
	require.Equal(t, "Fund the libraries", m.Description)

	var motions []model.Motion
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/motions", nil, &motions))
	require.Len(t, motions, 1)

	require.Equal(t, http.StatusNoContent, doJSON(t, http.MethodDelete, srv.URL+"/motions/"+motion.ID, nil, nil))
	require.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, srv.URL+"/motions/"+motion.ID, nil, nil))
	require.Equal(t, http.StatusNoContent, doJSON(t, http.MethodDelete, srv.URL+"/members/"+member.ID, nil, nil))
	require.Equal(t, http.StatusNotFound, doJSON(t, http.MethodDelete, srv.URL+"/members/"+member.ID, nil, nil))
	require.Equal(t, http.StatusNotFound, doJSON(t, http.MethodPost, srv.URL+"/motions/x/session/pause", nil, nil))
}
