package store

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-vote/internal/intent"
	"github.com/loqalabs/loqa-vote/internal/model"
	"github.com/loqalabs/loqa-vote/internal/tally"
)

func (s *Store) FindVote(ctx context.Context, memberID, motionID string) (model.Vote, error) {
	var v model.Vote
	var decided string
	var castAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, member_id, motion_id, intent, cast_at, evidence
		 FROM votes WHERE member_id = ? AND motion_id = ?`, memberID, motionID).
		Scan(&v.ID, &v.MemberID, &v.MotionID, &decided, &castAt, &v.Evidence)
	if err != nil {
		return model.Vote{}, notFound(err)
	}
	v.Intent = intent.Intent(decided)
	v.Timestamp = fromUnix(castAt)
	return v, nil
}

// InsertVote reports model.ErrConflict when the pair already has a vote.
func (s *Store) InsertVote(ctx context.Context, v model.Vote) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO votes(id, member_id, motion_id, intent, cast_at, evidence) VALUES(?, ?, ?, ?, ?, ?)`,
		v.ID, v.MemberID, v.MotionID, string(v.Intent), toUnix(v.Timestamp), v.Evidence)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("vote %s/%s: %w", v.MemberID, v.MotionID, model.ErrConflict)
		}
		return err
	}
	return nil
}

func (s *Store) UpdateVote(ctx context.Context, v model.Vote) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE votes SET intent = ?, cast_at = ?, evidence = ? WHERE id = ?`,
		string(v.Intent), toUnix(v.Timestamp), v.Evidence, v.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// MotionBallots returns every vote of the motion joined with the voter's
// constituency in a single statement.
func (s *Store) MotionBallots(ctx context.Context, motionID string) ([]tally.Ballot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT v.intent, m.constituency
		 FROM votes v JOIN members m ON m.id = v.member_id
		 WHERE v.motion_id = ?`, motionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ballots []tally.Ballot
	for rows.Next() {
		var decided, constituency string
		if err := rows.Scan(&decided, &constituency); err != nil {
			return nil, err
		}
		ballots = append(ballots, tally.Ballot{Intent: intent.Intent(decided), Constituency: constituency})
	}
	return ballots, rows.Err()
}
