package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-vote/internal/model"
)

const motionColumns = `id, title, description, proposed_by, proposed_at, status, summary`

func scanMotion(row interface{ Scan(...any) error }) (model.Motion, error) {
	var m model.Motion
	var proposedAt int64
	var status string
	var summary sql.NullString
	if err := row.Scan(&m.ID, &m.Title, &m.Description, &m.ProposedBy, &proposedAt, &status, &summary); err != nil {
		return model.Motion{}, err
	}
	m.ProposedAt = fromUnix(proposedAt)
	m.Status = model.MotionStatus(status)
	m.Summary = summary.String
	return m, nil
}

// CreateMotion inserts a motion. New motions start pending unless a valid
// status is given.
func (s *Store) CreateMotion(ctx context.Context, m model.Motion) (model.Motion, error) {
	if m.Title == "" {
		return model.Motion{}, fmt.Errorf("%w: motion title is required", model.ErrInvalid)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if !m.Status.Valid() {
		m.Status = model.MotionPending
	}
	if m.ProposedAt.IsZero() {
		m.ProposedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO motions(id, title, description, proposed_by, proposed_at, status, summary)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Title, m.Description, m.ProposedBy, toUnix(m.ProposedAt), string(m.Status), nullString(m.Summary))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Motion{}, fmt.Errorf("motion %s: %w", m.ID, model.ErrConflict)
		}
		return model.Motion{}, fmt.Errorf("insert motion: %w", err)
	}
	return m, nil
}

func (s *Store) FindMotion(ctx context.Context, id string) (model.Motion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+motionColumns+` FROM motions WHERE id = ?`, id)
	m, err := scanMotion(row)
	if err != nil {
		return model.Motion{}, notFound(err)
	}
	return m, nil
}

func (s *Store) ListMotions(ctx context.Context) ([]model.Motion, error) {
	return s.queryMotions(ctx, `SELECT `+motionColumns+` FROM motions ORDER BY proposed_at`)
}

func (s *Store) MotionsByStatus(ctx context.Context, status model.MotionStatus) ([]model.Motion, error) {
	return s.queryMotions(ctx, `SELECT `+motionColumns+` FROM motions WHERE status = ? ORDER BY proposed_at`, string(status))
}

// UpdateMotion replaces title, description and proposer.
func (s *Store) UpdateMotion(ctx context.Context, m model.Motion) (model.Motion, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE motions SET title = ?, description = ?, proposed_by = ? WHERE id = ?`,
		m.Title, m.Description, m.ProposedBy, m.ID)
	if err != nil {
		return model.Motion{}, fmt.Errorf("update motion: %w", err)
	}
	if err := affectedOrNotFound(res); err != nil {
		return model.Motion{}, err
	}
	return s.FindMotion(ctx, m.ID)
}

func (s *Store) UpdateMotionStatus(ctx context.Context, id string, status model.MotionStatus) (model.Motion, error) {
	if !status.Valid() {
		return model.Motion{}, fmt.Errorf("%w: unknown motion status %q", model.ErrInvalid, status)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE motions SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return model.Motion{}, fmt.Errorf("update motion status: %w", err)
	}
	if err := affectedOrNotFound(res); err != nil {
		return model.Motion{}, err
	}
	return s.FindMotion(ctx, id)
}

func (s *Store) UpdateMotionSummary(ctx context.Context, id, summary string) (model.Motion, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE motions SET summary = ? WHERE id = ?`, nullString(summary), id)
	if err != nil {
		return model.Motion{}, fmt.Errorf("update motion summary: %w", err)
	}
	if err := affectedOrNotFound(res); err != nil {
		return model.Motion{}, err
	}
	return s.FindMotion(ctx, id)
}

func (s *Store) DeleteMotion(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM motions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete motion: %w", err)
	}
	return affectedOrNotFound(res)
}

func (s *Store) queryMotions(ctx context.Context, query string, args ...any) ([]model.Motion, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	motions := []model.Motion{}
	for rows.Next() {
		m, err := scanMotion(rows)
		if err != nil {
			return nil, err
		}
		motions = append(motions, m)
	}
	return motions, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
