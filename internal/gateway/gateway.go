// Package gateway serves live motion updates over websocket.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-vote/internal/broadcast"
	"github.com/loqalabs/loqa-vote/internal/model"
	"github.com/loqalabs/loqa-vote/internal/protocol"
	"golang.org/x/net/websocket"
)

const (
	maxDecodeErrors = 5
	maxPayloadBytes = 4 << 10
	maxFrameBytes   = 64 << 10
)

// Client frame types.
const (
	FrameJoinMotion  = "joinMotion"
	FrameLeaveMotion = "leaveMotion"
	FrameStartVoting = "startVoting"
	FrameStopVoting  = "stopVoting"
)

// Server acknowledgement and error frame types.
const (
	FrameJoinedMotion  = "joinedMotion"
	FrameLeftMotion    = "leftMotion"
	FrameVotingStarted = "votingStarted"
	FrameVotingStopped = "votingStopped"
	FrameError         = "error"
)

type Hub interface {
	Subscribe(conn broadcast.Conn, motionID string) error
	Unsubscribe(conn broadcast.Conn, motionID string)
	Drop(conn broadcast.Conn)
}

type Sessions interface {
	OpenSession(ctx context.Context, motionID string) (model.Motion, error)
	CloseSession(ctx context.Context, motionID string) (model.Motion, error)
}

type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type motionPayload struct {
	MotionID string `json:"motionId"`
}

type updatePayload struct {
	MotionID string `json:"motionId"`
	Data     any    `json:"data"`
}

type Gateway struct {
	hub      Hub
	sessions Sessions
	logger   *slog.Logger
}

func New(hub Hub, sessions Sessions, logger *slog.Logger) *Gateway {
	return &Gateway{
		hub:      hub,
		sessions: sessions,
		logger:   logger.With(slog.String("component", "gateway")),
	}
}

// Handler returns the websocket endpoint. Only GET upgrades are accepted.
func (g *Gateway) Handler() http.Handler {
	ws := websocket.Handler(g.serve)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ws.ServeHTTP(w, r)
	})
}

func (g *Gateway) serve(ws *websocket.Conn) {
	ws.MaxPayloadBytes = maxFrameBytes
	conn := &wsConn{id: uuid.NewString(), ws: ws}
	log := g.logger.With(slog.String("conn_id", conn.id))
	log.Info("client connected")
	defer func() {
		g.hub.Drop(conn)
		_ = ws.Close()
		log.Info("client disconnected")
	}()

	ctx := context.Background()
	if req := ws.Request(); req != nil {
		ctx = req.Context()
	}

	decodeErrors := 0
	for {
		var data []byte
		if err := websocket.Message.Receive(ws, &data); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("websocket read failed", slogError(err))
			}
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			decodeErrors++
			_ = conn.writeError("", protocol.CodeInvalidRequest, "invalid frame payload")
			if decodeErrors >= maxDecodeErrors {
				return
			}
			continue
		}
		decodeErrors = 0
		g.handleFrame(ctx, conn, frame, log)
	}
}

func (g *Gateway) handleFrame(ctx context.Context, conn *wsConn, frame Frame, log *slog.Logger) {
	if len(frame.Payload) > maxPayloadBytes {
		_ = conn.writeError(frame.RequestID, protocol.CodeInvalidRequest, "payload too large")
		return
	}
	motionID, ok := parseMotionID(frame.Payload)
	if !ok {
		_ = conn.writeError(frame.RequestID, protocol.CodeInvalidRequest, "motionId is required")
		return
	}

	var ack string
	switch frame.Type {
	case FrameJoinMotion:
		if err := g.hub.Subscribe(conn, motionID); err != nil {
			_ = conn.writeError(frame.RequestID, protocol.CodeInternal, "gateway is shutting down")
			return
		}
		log.Debug("joined motion", slog.String("motion_id", motionID))
		ack = FrameJoinedMotion
	case FrameLeaveMotion:
		g.hub.Unsubscribe(conn, motionID)
		ack = FrameLeftMotion
	case FrameStartVoting:
		if _, err := g.sessions.OpenSession(ctx, motionID); err != nil {
			body := protocol.ErrorFor(err)
			_ = conn.writeError(frame.RequestID, body.Code, body.Message)
			return
		}
		ack = FrameVotingStarted
	case FrameStopVoting:
		if _, err := g.sessions.CloseSession(ctx, motionID); err != nil {
			body := protocol.ErrorFor(err)
			_ = conn.writeError(frame.RequestID, body.Code, body.Message)
			return
		}
		ack = FrameVotingStopped
	default:
		_ = conn.writeError(frame.RequestID, protocol.CodeInvalidRequest, "unsupported frame type")
		return
	}
	if err := conn.write(ack, frame.RequestID, motionPayload{MotionID: motionID}); err != nil {
		log.Debug("failed to write ack", slogError(err))
	}
}

// parseMotionID accepts {"motionId": "..."} or a bare JSON string.
func parseMotionID(raw json.RawMessage) (string, bool) {
	var p motionPayload
	if err := json.Unmarshal(raw, &p); err == nil {
		id := strings.TrimSpace(p.MotionID)
		return id, id != ""
	}
	var bare string
	if err := json.Unmarshal(raw, &bare); err == nil {
		bare = strings.TrimSpace(bare)
		return bare, bare != ""
	}
	return "", false
}

// wsConn adapts a websocket connection to broadcast.Conn. Writes from the
// reader loop and the hub are serialized.
type wsConn struct {
	id string
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(ctx context.Context, msg broadcast.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	return c.writeFrame(deadline, string(msg.Event), "", updatePayload{MotionID: msg.MotionID, Data: msg.Data})
}

func (c *wsConn) write(frameType, requestID string, payload any) error {
	return c.writeFrame(time.Now().Add(5*time.Second), frameType, requestID, payload)
}

func (c *wsConn) writeError(requestID, code, message string) error {
	return c.write(FrameError, requestID, protocol.ErrorBody{Code: code, Message: message})
}

func (c *wsConn) writeFrame(deadline time.Time, frameType, requestID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return websocket.JSON.Send(c.ws, Frame{Type: frameType, RequestID: requestID, Payload: data})
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
