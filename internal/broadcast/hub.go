// Package broadcast fans tally and session updates out to the connections
// watching a motion.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-vote/internal/tally"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultBuffer      = 64
	DefaultSendTimeout = 2 * time.Second
)

// Event names the kind of update carried by a Message.
type Event string

const (
	EventVoteUpdate    Event = "voteUpdate"
	EventSessionUpdate Event = "votingSessionUpdate"
)

var ErrClosed = errors.New("broadcast hub closed")

// Message is one update delivered to a subscriber.
type Message struct {
	Event    Event  `json:"event"`
	MotionID string `json:"motionId"`
	Data     any    `json:"data"`
}

// SessionState is the payload of EventSessionUpdate.
type SessionState struct {
	Active bool `json:"active"`
}

// Conn is a subscriber transport. Send must honour ctx.
type Conn interface {
	ID() string
	Send(ctx context.Context, msg Message) error
}

// Mirror receives a copy of every published message, regardless of local
// subscribers.
type Mirror interface {
	Mirror(msg Message) error
}

type Options struct {
	Buffer      int
	SendTimeout time.Duration
	Mirror      Mirror
	Logger      *slog.Logger
}

// Hub keeps the motion topic registry. Publishing only enqueues; each
// connection has its own goroutine draining a bounded queue, so a slow
// connection loses its oldest pending updates instead of stalling others.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[string]*subscriber
	conns  map[string]*subscriber
	closed bool

	// pubMu keeps enqueue order identical across subscribers of a topic.
	pubMu sync.Mutex

	buffer      int
	sendTimeout time.Duration
	mirror      Mirror
	logger      *slog.Logger
	wg          sync.WaitGroup

	delivered metric.Int64Counter
	dropped   metric.Int64Counter
	detached  metric.Int64Counter
}

func NewHub(opts Options) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Hub{
		topics:      make(map[string]map[string]*subscriber),
		conns:       make(map[string]*subscriber),
		buffer:      opts.Buffer,
		sendTimeout: opts.SendTimeout,
		mirror:      opts.Mirror,
		logger:      opts.Logger.With(slog.String("component", "broadcast")),
	}
	h.initMetrics()
	return h
}

func (h *Hub) initMetrics() {
	meter := otel.Meter("github.com/loqalabs/loqa-vote/internal/broadcast")
	var err error
	if h.delivered, err = meter.Int64Counter("broadcast.messages.delivered"); err != nil {
		h.logger.Warn("failed to create delivered counter", slogError(err))
	}
	if h.dropped, err = meter.Int64Counter("broadcast.messages.dropped",
		metric.WithDescription("Updates discarded because a subscriber queue was full")); err != nil {
		h.logger.Warn("failed to create dropped counter", slogError(err))
	}
	if h.detached, err = meter.Int64Counter("broadcast.connections.detached"); err != nil {
		h.logger.Warn("failed to create detached counter", slogError(err))
	}
}

// Subscribe adds conn to the motion topic. Joining twice is a no-op.
func (h *Hub) Subscribe(conn Conn, motionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	sub, ok := h.conns[conn.ID()]
	if !ok {
		sub = newSubscriber(conn, h.buffer)
		h.conns[conn.ID()] = sub
		h.wg.Add(1)
		go h.run(sub)
	}
	members, ok := h.topics[motionID]
	if !ok {
		members = make(map[string]*subscriber)
		h.topics[motionID] = members
	}
	members[conn.ID()] = sub
	sub.topics[motionID] = struct{}{}
	return nil
}

// Unsubscribe removes conn from one topic. A connection left with no topics
// is released.
func (h *Hub) Unsubscribe(conn Conn, motionID string) {
	h.mu.Lock()
	sub, ok := h.conns[conn.ID()]
	if !ok {
		h.mu.Unlock()
		return
	}
	h.leaveLocked(sub, motionID)
	release := len(sub.topics) == 0
	if release {
		delete(h.conns, conn.ID())
	}
	h.mu.Unlock()
	if release {
		sub.stop()
	}
}

// Drop removes conn from every topic.
func (h *Hub) Drop(conn Conn) {
	h.mu.Lock()
	sub := h.detachLocked(conn.ID())
	h.mu.Unlock()
	if sub != nil {
		sub.stop()
	}
}

func (h *Hub) PublishTally(motionID string, snap tally.Snapshot) {
	h.publish(Message{Event: EventVoteUpdate, MotionID: motionID, Data: snap})
}

func (h *Hub) PublishSessionState(motionID string, active bool) {
	h.publish(Message{Event: EventSessionUpdate, MotionID: motionID, Data: SessionState{Active: active}})
}

// Subscribers reports how many connections watch motionID.
func (h *Hub) Subscribers(motionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[motionID])
}

// Close releases every connection and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*subscriber, 0, len(h.conns))
	for _, sub := range h.conns {
		subs = append(subs, sub)
	}
	h.conns = make(map[string]*subscriber)
	h.topics = make(map[string]map[string]*subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	h.wg.Wait()
}

func (h *Hub) publish(msg Message) {
	h.pubMu.Lock()
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		h.pubMu.Unlock()
		return
	}
	for _, sub := range h.topics[msg.MotionID] {
		if sub.enqueue(msg) {
			h.count(h.dropped, msg)
		}
	}
	h.mu.RUnlock()
	h.pubMu.Unlock()

	if h.mirror != nil {
		if err := h.mirror.Mirror(msg); err != nil {
			h.logger.Warn("failed to mirror update",
				slog.String("motion_id", msg.MotionID),
				slog.String("event", string(msg.Event)),
				slogError(err))
		}
	}
}

func (h *Hub) run(sub *subscriber) {
	defer h.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case <-sub.notify:
		}
		for {
			msg, ok := sub.pop()
			if !ok {
				break
			}
			if !h.watching(sub, msg.MotionID) {
				continue
			}
			if err := h.deliver(sub, msg); err != nil {
				h.logger.Info("detaching subscriber after failed send",
					slog.String("conn_id", sub.conn.ID()),
					slogError(err))
				h.count(h.detached, msg)
				h.mu.Lock()
				if h.conns[sub.conn.ID()] == sub {
					h.detachLocked(sub.conn.ID())
				}
				h.mu.Unlock()
				sub.stop()
				return
			}
			h.count(h.delivered, msg)
		}
	}
}

// watching reports whether sub still belongs to the topic. Updates queued
// before an Unsubscribe are skipped.
func (h *Hub) watching(sub *subscriber, motionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := sub.topics[motionID]
	return ok
}

func (h *Hub) deliver(sub *subscriber, msg Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.sendTimeout)
	defer cancel()
	go func() {
		select {
		case <-sub.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return sub.conn.Send(ctx, msg)
}

func (h *Hub) leaveLocked(sub *subscriber, motionID string) {
	delete(sub.topics, motionID)
	if members, ok := h.topics[motionID]; ok {
		delete(members, sub.conn.ID())
		if len(members) == 0 {
			delete(h.topics, motionID)
		}
	}
}

func (h *Hub) detachLocked(connID string) *subscriber {
	sub, ok := h.conns[connID]
	if !ok {
		return nil
	}
	for motionID := range sub.topics {
		h.leaveLocked(sub, motionID)
	}
	delete(h.conns, connID)
	return sub
}

func (h *Hub) count(counter metric.Int64Counter, msg Message) {
	if counter == nil {
		return
	}
	counter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event", string(msg.Event))))
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
