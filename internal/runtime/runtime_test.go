package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-vote/internal/broadcast"
	"github.com/loqalabs/loqa-vote/internal/config"
	"github.com/loqalabs/loqa-vote/internal/model"
	"github.com/loqalabs/loqa-vote/internal/protocol"
	"github.com/loqalabs/loqa-vote/internal/tally"
	"github.com/stretchr/testify/require"
)

func testRuntime(t *testing.T, busEnabled bool) (*Runtime, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "runtime.db")
	cfg.Bus.Enabled = busEnabled
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = t.TempDir()

	r := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("/readyz", r.handleReady)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, r.startComponents(ctx, mux))
	t.Cleanup(r.shutdown)
	r.ready.Store(true)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return r, srv
}

func post(t *testing.T, url string, body any, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestRuntimeWiresVotingOverHTTP(t *testing.T) {
	_, srv := testRuntime(t, false)

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var member model.Member
	require.Equal(t, http.StatusCreated, post(t, srv.URL+"/members", map[string]string{"name": "Ada", "constituency": "North"}, &member))
	var motion model.Motion
	require.Equal(t, http.StatusCreated, post(t, srv.URL+"/motions", map[string]string{"title": "Budget"}, &motion))

	cast := protocol.CastVoteRequest{VoiceData: []byte("yes"), MotionID: motion.ID, MemberID: member.ID}
	require.Equal(t, http.StatusConflict, post(t, srv.URL+"/voting/cast-vote", cast, nil))
	require.Equal(t, http.StatusOK, post(t, srv.URL+"/motions/"+motion.ID+"/session/start", nil, nil))
	require.Equal(t, http.StatusCreated, post(t, srv.URL+"/voting/cast-vote", cast, nil))
}

func TestRuntimeMirrorsTallyOnBus(t *testing.T) {
	r, srv := testRuntime(t, true)

	sub, err := r.bus.Conn().SubscribeSync("vote.tally.>")
	require.NoError(t, err)
	require.NoError(t, r.bus.Conn().Flush())

	var member model.Member
	post(t, srv.URL+"/members", map[string]string{"name": "Bo", "constituency": "South"}, &member)
	var motion model.Motion
	post(t, srv.URL+"/motions", map[string]string{"title": "Parks"}, &motion)
	post(t, srv.URL+"/motions/"+motion.ID+"/session/start", nil, nil)

	require.Equal(t, http.StatusCreated, post(t, srv.URL+"/voting/cast-vote",
		protocol.CastVoteRequest{VoiceData: []byte("nay"), MotionID: motion.ID, MemberID: member.ID}, nil))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "vote.tally."+motion.ID, msg.Subject)

	var mirrored struct {
		Event    broadcast.Event `json:"event"`
		MotionID string          `json:"motionId"`
		Data     tally.Snapshot  `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &mirrored))
	require.Equal(t, broadcast.EventVoteUpdate, mirrored.Event)
	require.Equal(t, 1, mirrored.Data.No)

	reqData, err := json.Marshal(protocol.CastVoteRequest{VoiceData: []byte("aye"), MotionID: motion.ID, MemberID: member.ID})
	require.NoError(t, err)
	reply, err := r.bus.Conn().Request(protocol.SubjectCastVote, reqData, 2*time.Second)
	require.NoError(t, err)
	var castReply protocol.CastVoteReply
	require.NoError(t, json.Unmarshal(reply.Data, &castReply))
	require.Nil(t, castReply.Error)
	require.Equal(t, "yes", string(castReply.Vote.Intent))
}
