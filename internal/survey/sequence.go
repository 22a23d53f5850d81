package survey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/imageeval/internal/model"
	"github.com/pavelanni/imageeval/internal/store"
)

// Status is the sequencing state of a session.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusComplete   Status = "COMPLETE"
)

// State is what a session should show next.
type State struct {
	Session    model.Session
	Evaluation model.Evaluation
	Status     Status
	NextOrder  int
	Question   *model.Question // nil once complete
}

// Complete reports whether the session reached its terminal state.
func (st State) Complete() bool { return st.Status == StatusComplete }

// NextOrder is 0 for a fresh session, else one past the highest answered order.
func NextOrder(p model.Progress) int {
	if p.Answered == 0 {
		return 0
	}
	return p.MaxAnswered + 1
}

// IsComplete reports whether next lies beyond the evaluation's last question.
func IsComplete(next int, p model.Progress) bool {
	return next > p.MaxOrder
}

// sequenceQueries is the part of the store the engine needs; *store.Store and
// *store.Tx both provide it.
type sequenceQueries interface {
	GetEvaluation(ctx context.Context, id int64) (model.Evaluation, error)
	SessionProgress(ctx context.Context, sess model.Session) (model.Progress, error)
	CompleteSession(ctx context.Context, id int64, at time.Time) (bool, error)
	QuestionByOrder(ctx context.Context, evaluationID int64, order int) (model.Question, error)
}

// advance computes the session's next step, completing the session when
// no question is left. Completing is idempotent.
func advance(ctx context.Context, q sequenceQueries, sess model.Session, now time.Time) (State, error) {
	eval, err := q.GetEvaluation(ctx, sess.EvaluationID)
	if err != nil {
		return State{}, fmt.Errorf("load evaluation: %w", err)
	}
	st := State{Session: sess, Evaluation: eval}

	if sess.Completed() {
		st.Status = StatusComplete
		return st, nil
	}

	p, err := q.SessionProgress(ctx, sess)
	if err != nil {
		return State{}, fmt.Errorf("session progress: %w", err)
	}
	st.NextOrder = NextOrder(p)

	if IsComplete(st.NextOrder, p) {
		set, err := q.CompleteSession(ctx, sess.ID, now)
		if err != nil {
			return State{}, fmt.Errorf("complete session: %w", err)
		}
		if set {
			st.Session.CompletedAt = &now
			slog.Info("session completed", "session_id", sess.ID, "evaluation_id", sess.EvaluationID,
				"answered", p.Answered)
		}
		st.Status = StatusComplete
		return st, nil
	}

	question, err := q.QuestionByOrder(ctx, sess.EvaluationID, st.NextOrder)
	if errors.Is(err, model.ErrNotFound) {
		return State{}, &model.SequencingFault{
			SessionID:    sess.ID,
			EvaluationID: sess.EvaluationID,
			Order:        st.NextOrder,
		}
	}
	if err != nil {
		return State{}, fmt.Errorf("load question %d: %w", st.NextOrder, err)
	}
	st.Status = StatusInProgress
	st.Question = &question
	return st, nil
}

// Current returns the session's state for display, completing it when it has
// no questions left.
func (s *Service) Current(ctx context.Context, hash string) (State, error) {
	var st State
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		sess, err := tx.GetSessionByHash(ctx, hash)
		if err != nil {
			return err
		}
		st, err = advance(ctx, tx, sess, s.now())
		return err
	})
	return st, err
}
