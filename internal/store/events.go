package store

import (
	"context"
	"time"
)

// Event types recorded on the vote timeline.
const (
	EventVoteRecorded = "vote.recorded"
	EventVoteRejected = "vote.rejected"
	EventSessionOpen  = "session.opened"
	EventSessionClose = "session.closed"
)

// Event is an entry on a motion's audit timeline.
type Event struct {
	ID        int64
	MotionID  string
	MemberID  string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// AppendEvent writes an event into the timeline.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vote_events(motion_id, member_id, event_type, payload, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		evt.MotionID, evt.MemberID, evt.Type, evt.Payload, toUnix(evt.CreatedAt))
	return err
}

// ListMotionEvents retrieves up to limit events for a motion ordered ascending by time.
func (s *Store) ListMotionEvents(ctx context.Context, motionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, motion_id, COALESCE(member_id, ''), event_type, payload, created_at
		 FROM vote_events WHERE motion_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, motionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created int64
		if err := rows.Scan(&e.ID, &e.MotionID, &e.MemberID, &e.Type, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = fromUnix(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune drops audit events older than the configured retention. Votes are
// never pruned.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.AuditRetentionDays <= 0 {
		return nil
	}
	cutoff := s.clock().Add(-time.Duration(s.cfg.AuditRetentionDays) * 24 * time.Hour)
	_, err := s.db.ExecContext(ctx, `DELETE FROM vote_events WHERE created_at < ?`, toUnix(cutoff))
	return err
}
