package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-vote/internal/model"
)

const memberColumns = `id, name, constituency, role, active`

func scanMember(row interface{ Scan(...any) error }) (model.Member, error) {
	var m model.Member
	var active int64
	if err := row.Scan(&m.ID, &m.Name, &m.Constituency, &m.Role, &active); err != nil {
		return model.Member{}, err
	}
	m.Active = active != 0
	return m, nil
}

// CreateMember inserts a member, assigning an id when empty.
func (s *Store) CreateMember(ctx context.Context, m model.Member) (model.Member, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Name == "" || m.Constituency == "" {
		return model.Member{}, fmt.Errorf("%w: member name and constituency are required", model.ErrInvalid)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO members(id, name, constituency, role, active) VALUES(?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Constituency, m.Role, boolToInt(m.Active))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Member{}, fmt.Errorf("member %s: %w", m.ID, model.ErrConflict)
		}
		return model.Member{}, fmt.Errorf("insert member: %w", err)
	}
	return m, nil
}

func (s *Store) FindMember(ctx context.Context, id string) (model.Member, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = ?`, id)
	m, err := scanMember(row)
	if err != nil {
		return model.Member{}, notFound(err)
	}
	return m, nil
}

func (s *Store) ListMembers(ctx context.Context) ([]model.Member, error) {
	return s.queryMembers(ctx, `SELECT `+memberColumns+` FROM members ORDER BY name`)
}

func (s *Store) MembersByConstituency(ctx context.Context, constituency string) ([]model.Member, error) {
	return s.queryMembers(ctx, `SELECT `+memberColumns+` FROM members WHERE constituency = ? ORDER BY name`, constituency)
}

// UpdateMember replaces the mutable fields of an existing member.
func (s *Store) UpdateMember(ctx context.Context, m model.Member) (model.Member, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE members SET name = ?, constituency = ?, role = ?, active = ? WHERE id = ?`,
		m.Name, m.Constituency, m.Role, boolToInt(m.Active), m.ID)
	if err != nil {
		return model.Member{}, fmt.Errorf("update member: %w", err)
	}
	if err := affectedOrNotFound(res); err != nil {
		return model.Member{}, err
	}
	return m, nil
}

func (s *Store) DeleteMember(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM members WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return affectedOrNotFound(res)
}

func (s *Store) queryMembers(ctx context.Context, query string, args ...any) ([]model.Member, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []model.Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
