package broadcast

import (
	"fmt"
	"strings"
)

// Publisher is satisfied by *bus.Client.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

type busMirror struct {
	pub    Publisher
	prefix string
}

// NewBusMirror republishes updates as <prefix>.tally.<motion> and
// <prefix>.session.<motion>.
func NewBusMirror(pub Publisher, prefix string) Mirror {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = "vote"
	}
	return &busMirror{pub: pub, prefix: prefix}
}

func (m *busMirror) Mirror(msg Message) error {
	subject, err := m.subject(msg)
	if err != nil {
		return err
	}
	return m.pub.PublishJSON(subject, msg)
}

func (m *busMirror) subject(msg Message) (string, error) {
	switch msg.Event {
	case EventVoteUpdate:
		return fmt.Sprintf("%s.tally.%s", m.prefix, msg.MotionID), nil
	case EventSessionUpdate:
		return fmt.Sprintf("%s.session.%s", m.prefix, msg.MotionID), nil
	default:
		return "", fmt.Errorf("no subject for event %q", msg.Event)
	}
}
