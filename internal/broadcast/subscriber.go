package broadcast

import "sync"

type subscriber struct {
	conn   Conn
	topics map[string]struct{} // guarded by Hub.mu

	mu     sync.Mutex
	queue  []Message
	limit  int
	notify chan struct{}

	done     chan struct{}
	stopOnce sync.Once
}

func newSubscriber(conn Conn, limit int) *subscriber {
	return &subscriber{
		conn:   conn,
		topics: make(map[string]struct{}),
		limit:  limit,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// enqueue appends msg, discarding the oldest pending message when the queue
// is full. It reports whether a message was discarded.
func (s *subscriber) enqueue(msg Message) bool {
	s.mu.Lock()
	dropped := false
	if len(s.queue) >= s.limit {
		s.queue = s.queue[1:]
		dropped = true
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

func (s *subscriber) pop() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return Message{}, false
	default:
	}
	if len(s.queue) == 0 {
		return Message{}, false
	}
	msg := s.queue[0]
	s.queue[0] = Message{}
	s.queue = s.queue[1:]
	return msg, true
}

func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}
