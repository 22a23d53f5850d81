package survey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pavelanni/imageeval/internal/model"
	"github.com/pavelanni/imageeval/internal/store"
)

// ParseAnswer validates a submitted answer code against the question's choices.
func ParseAnswer(q model.Question, raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, model.NewValidationError(model.ReasonInvalidAnswer, "answer missing")
	}
	answer, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.NewValidationError(model.ReasonInvalidAnswer, "answer is not a number")
	}
	if answer < 0 || answer >= q.AnswerCount() {
		return 0, model.NewValidationError(model.ReasonInvalidAnswer,
			fmt.Sprintf("answer %d out of range", answer))
	}
	return answer, nil
}

// RecordAnswer stores a participant's answer to the question the session expects
// and advances the session. The whole read-decide-write sequence runs in one
// immediate transaction.
//
// On a *model.ValidationError nothing is written and the returned State is the
// session's current step, for re-rendering.
func (s *Service) RecordAnswer(ctx context.Context, hash string, questionID int64, rawAnswer string) (model.Assignment, State, error) {
	var (
		assignment model.Assignment
		current    State
		validation error
	)
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		sess, err := tx.GetSessionByHash(ctx, hash)
		if err != nil {
			return err
		}

		current, err = advance(ctx, tx, sess, s.now())
		if err != nil {
			return err
		}
		if current.Complete() {
			validation = model.NewValidationError(model.ReasonCompleted, "")
			return nil
		}

		question, err := tx.GetQuestion(ctx, questionID)
		if err != nil {
			return err
		}
		if question.EvaluationID != sess.EvaluationID {
			return fmt.Errorf("question %d is not part of evaluation %d: %w",
				questionID, sess.EvaluationID, model.ErrNotFound)
		}
		if question.Order != current.NextOrder {
			validation = model.NewValidationError(model.ReasonOutOfSequence,
				fmt.Sprintf("got order %d, expected %d", question.Order, current.NextOrder))
			return nil
		}

		displayed, err := ParseAnswer(question, rawAnswer)
		if err != nil {
			validation = err
			return nil
		}

		assignment = model.Assignment{
			SessionID:     sess.ID,
			QuestionID:    question.ID,
			QuestionOrder: question.Order,
			Answer:        question.RealAnswer(displayed),
			CreatedAt:     s.now(),
		}
		assignment.ID, err = tx.InsertAssignment(ctx, assignment)
		if err != nil {
			return err
		}

		current, err = advance(ctx, tx, sess, s.now())
		return err
	})
	if err != nil {
		if errors.Is(err, model.ErrConflict) {
			slog.Warn("concurrent answer rejected", "question_id", questionID, "error", err)
		}
		return model.Assignment{}, State{}, err
	}
	if validation != nil {
		return model.Assignment{}, current, validation
	}
	slog.Debug("answer recorded", "session_id", assignment.SessionID, "order", assignment.QuestionOrder,
		"answer", assignment.Answer)
	return assignment, current, nil
}
