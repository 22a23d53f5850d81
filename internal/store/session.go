package store

import (
	"context"
	"time"

	"github.com/pavelanni/imageeval/internal/model"
)

const sessionColumns = `id, hash, evaluation_id, user_name, comment, created_at, completed_at`

func scanSession(row interface{ Scan(...any) error }) (model.Session, error) {
	var sess model.Session
	err := row.Scan(&sess.ID, &sess.Hash, &sess.EvaluationID, &sess.UserName, &sess.Comment,
		&sess.CreatedAt, &sess.CompletedAt)
	return sess, err
}

// CreateSession stores a new in-progress session.
func (s *queries) CreateSession(ctx context.Context, sess model.Session) (int64, error) {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO sessions (hash, evaluation_id, user_name, comment, created_at) VALUES (?, ?, ?, ?, ?)`,
		sess.Hash, sess.EvaluationID, sess.UserName, sess.Comment, sess.CreatedAt,
	)
	if err != nil {
		return 0, mapConflict(err)
	}
	return res.LastInsertId()
}

// GetSession returns a session by ID.
func (s *queries) GetSession(ctx context.Context, id int64) (model.Session, error) {
	sess, err := scanSession(s.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	return sess, notFound(err)
}

// GetSessionByHash returns the session identified by its URL token.
func (s *queries) GetSessionByHash(ctx context.Context, hash string) (model.Session, error) {
	sess, err := scanSession(s.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE hash = ?`, hash))
	return sess, notFound(err)
}

// CompleteSession sets completed_at once. It reports whether this call set it.
func (s *queries) CompleteSession(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE sessions SET completed_at = ? WHERE id = ? AND completed_at IS NULL`, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SessionProgress counts a session's assignments against its evaluation's questions.
func (s *queries) SessionProgress(ctx context.Context, sess model.Session) (model.Progress, error) {
	var p model.Progress
	err := s.q.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM assignments WHERE session_id = ?),
			(SELECT COALESCE(MAX(question_order), -1) FROM assignments WHERE session_id = ?),
			(SELECT COALESCE(MAX(position), -1) FROM questions WHERE evaluation_id = ?)`,
		sess.ID, sess.ID, sess.EvaluationID,
	).Scan(&p.Answered, &p.MaxAnswered, &p.MaxOrder)
	return p, err
}

// InsertAssignment stores an answer. A second answer for the same session step
// fails with model.ErrConflict.
func (s *queries) InsertAssignment(ctx context.Context, a model.Assignment) (int64, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO assignments (session_id, question_id, question_order, answer, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		a.SessionID, a.QuestionID, a.QuestionOrder, a.Answer, a.CreatedAt,
	)
	if err != nil {
		return 0, mapConflict(err)
	}
	return res.LastInsertId()
}

// ListAssignments returns a session's assignments in question order.
func (s *queries) ListAssignments(ctx context.Context, sessionID int64) ([]model.Assignment, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, session_id, question_id, question_order, answer, created_at
		 FROM assignments WHERE session_id = ? ORDER BY question_order`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Assignment
	for rows.Next() {
		var a model.Assignment
		if err := rows.Scan(&a.ID, &a.SessionID, &a.QuestionID, &a.QuestionOrder, &a.Answer, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListSessions returns sessions with their answer counts, oldest first.
// An evaluationID of 0 lists every evaluation's sessions.
func (s *queries) ListSessions(ctx context.Context, evaluationID int64) ([]model.SessionSummary, error) {
	query := `SELECT s.id, s.hash, s.evaluation_id, s.user_name, s.comment, s.created_at, s.completed_at,
			e.title, (SELECT COUNT(*) FROM assignments a WHERE a.session_id = s.id)
		FROM sessions s JOIN evaluations e ON e.id = s.evaluation_id`
	var args []any
	if evaluationID != 0 {
		query += ` WHERE s.evaluation_id = ?`
		args = append(args, evaluationID)
	}
	query += ` ORDER BY s.created_at, s.id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SessionSummary
	for rows.Next() {
		var ss model.SessionSummary
		if err := rows.Scan(&ss.ID, &ss.Hash, &ss.EvaluationID, &ss.UserName, &ss.Comment,
			&ss.CreatedAt, &ss.CompletedAt, &ss.EvaluationTitle, &ss.Answered); err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}
