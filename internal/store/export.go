package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/imageeval/internal/model"
)

// ExportAnswers collects, per question order, the answers of completed sessions.
// Sessions contribute in creation order; in-progress sessions are left out.
func (s *queries) ExportAnswers(ctx context.Context, evaluationID int64) (model.EvaluationExport, error) {
	if _, err := s.GetEvaluation(ctx, evaluationID); err != nil {
		return nil, err
	}

	out := make(model.EvaluationExport)
	orders, err := s.q.QueryContext(ctx,
		`SELECT position FROM questions WHERE evaluation_id = ? ORDER BY position`, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("list question orders: %w", err)
	}
	for orders.Next() {
		var order int
		if err := orders.Scan(&order); err != nil {
			orders.Close()
			return nil, err
		}
		out[order] = []int{}
	}
	if err := orders.Err(); err != nil {
		orders.Close()
		return nil, err
	}
	orders.Close()

	rows, err := s.q.QueryContext(ctx,
		`SELECT a.question_order, a.answer
		 FROM assignments a
		 JOIN sessions s ON s.id = a.session_id
		 WHERE s.evaluation_id = ? AND s.completed_at IS NOT NULL
		 ORDER BY s.created_at, s.id, a.question_order`, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var order, answer int
		if err := rows.Scan(&order, &answer); err != nil {
			return nil, err
		}
		out[order] = append(out[order], answer)
	}
	return out, rows.Err()
}
