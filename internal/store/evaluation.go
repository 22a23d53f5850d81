package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pavelanni/imageeval/internal/model"
)

const evaluationColumns = `id, title, created_at, type, total_questions, media_prefix`

const questionColumns = `id, evaluation_id, text, position, kind, left_image, right_image, image, answers`

func scanQuestion(row interface{ Scan(...any) error }) (model.Question, error) {
	var q model.Question
	err := row.Scan(&q.ID, &q.EvaluationID, &q.Text, &q.Order, &q.Kind,
		&q.LeftImage, &q.RightImage, &q.Image, &q.Answers)
	return q, err
}

// InsertEvaluation stores an evaluation with zero questions.
func (s *queries) InsertEvaluation(ctx context.Context, e model.Evaluation) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO evaluations (title, created_at, type, total_questions, media_prefix) VALUES (?, ?, ?, 0, ?)`,
		e.Title, e.CreatedAt, e.Type, e.MediaPrefix,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SetTotalQuestions writes the denormalized question count.
func (s *queries) SetTotalQuestions(ctx context.Context, evaluationID int64, total int) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE evaluations SET total_questions = ? WHERE id = ?`, total, evaluationID)
	return err
}

// GetEvaluation returns an evaluation by ID.
func (s *queries) GetEvaluation(ctx context.Context, id int64) (model.Evaluation, error) {
	var e model.Evaluation
	err := s.q.QueryRowContext(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations WHERE id = ?`, id,
	).Scan(&e.ID, &e.Title, &e.CreatedAt, &e.Type, &e.TotalQuestions, &e.MediaPrefix)
	return e, notFound(err)
}

// ListEvaluations returns all evaluations, oldest first.
func (s *queries) ListEvaluations(ctx context.Context) ([]model.Evaluation, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var evaluations []model.Evaluation
	for rows.Next() {
		var e model.Evaluation
		if err := rows.Scan(&e.ID, &e.Title, &e.CreatedAt, &e.Type, &e.TotalQuestions, &e.MediaPrefix); err != nil {
			return nil, err
		}
		evaluations = append(evaluations, e)
	}
	return evaluations, rows.Err()
}

// UpdateEvaluationTitle renames an evaluation. The title is its only mutable field.
func (s *queries) UpdateEvaluationTitle(ctx context.Context, id int64, title string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE evaluations SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteEvaluation removes an evaluation with its questions, sessions and assignments.
func (s *queries) DeleteEvaluation(ctx context.Context, id int64) error {
	stmts := []string{
		`DELETE FROM assignments WHERE session_id IN (SELECT id FROM sessions WHERE evaluation_id = ?)`,
		`DELETE FROM sessions WHERE evaluation_id = ?`,
		`DELETE FROM questions WHERE evaluation_id = ?`,
		`DELETE FROM archive_imports WHERE evaluation_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := s.q.ExecContext(ctx, stmt, id); err != nil {
			return err
		}
	}
	res, err := s.q.ExecContext(ctx, `DELETE FROM evaluations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// InsertQuestion stores a question.
func (s *queries) InsertQuestion(ctx context.Context, q model.Question) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO questions (evaluation_id, text, position, kind, left_image, right_image, image, answers)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.EvaluationID, q.Text, q.Order, q.Kind, q.LeftImage, q.RightImage, q.Image, q.Answers,
	)
	if err != nil {
		return 0, mapConflict(err)
	}
	return res.LastInsertId()
}

// GetQuestion returns a question by ID.
func (s *queries) GetQuestion(ctx context.Context, id int64) (model.Question, error) {
	q, err := scanQuestion(s.q.QueryRowContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = ?`, id))
	return q, notFound(err)
}

// QuestionByOrder returns the question at the given position of an evaluation.
func (s *queries) QuestionByOrder(ctx context.Context, evaluationID int64, order int) (model.Question, error) {
	q, err := scanQuestion(s.q.QueryRowContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE evaluation_id = ? AND position = ?`,
		evaluationID, order))
	return q, notFound(err)
}

// ListQuestions returns an evaluation's questions in order.
func (s *queries) ListQuestions(ctx context.Context, evaluationID int64) ([]model.Question, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE evaluation_id = ? ORDER BY position`, evaluationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// QuestionCount returns the number of question rows of an evaluation.
func (s *queries) QuestionCount(ctx context.Context, evaluationID int64) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM questions WHERE evaluation_id = ?`, evaluationID).Scan(&count)
	return count, err
}

// RecordImport remembers which evaluation an archive (by content hash) produced.
func (s *queries) RecordImport(ctx context.Context, hash string, evaluationID int64) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO archive_imports (hash, evaluation_id, imported_at) VALUES (?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET evaluation_id = excluded.evaluation_id, imported_at = excluded.imported_at`,
		hash, evaluationID, time.Now().UTC(),
	)
	return err
}

// FindImport returns the evaluation created from an archive with this hash, or 0.
func (s *queries) FindImport(ctx context.Context, hash string) (int64, error) {
	var id int64
	err := s.q.QueryRowContext(ctx,
		`SELECT evaluation_id FROM archive_imports WHERE hash = ?`, hash).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}
