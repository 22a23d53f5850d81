package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/imageeval/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// insertTestEvaluation creates a selection evaluation with n questions.
func insertTestEvaluation(t *testing.T, s *Store, n int) (model.Evaluation, []model.Question) {
	t.Helper()
	ctx := context.Background()
	var evalID int64
	var questions []model.Question
	err := s.InTx(ctx, func(tx *Tx) error {
		var err error
		evalID, err = tx.InsertEvaluation(ctx, model.Evaluation{Title: "Eval", Type: model.EvaluationSelection})
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			q := model.Question{
				EvaluationID: evalID,
				Text:         "Pick one",
				Order:        i,
				Kind:         model.KindSelection,
				LeftImage:    "l",
				RightImage:   "r",
			}
			q.ID, err = tx.InsertQuestion(ctx, q)
			if err != nil {
				return err
			}
			questions = append(questions, q)
		}
		return tx.SetTotalQuestions(ctx, evalID, n)
	})
	if err != nil {
		t.Fatalf("insertTestEvaluation: %v", err)
	}
	e, err := s.GetEvaluation(ctx, evalID)
	if err != nil {
		t.Fatalf("GetEvaluation: %v", err)
	}
	return e, questions
}

func insertTestSession(t *testing.T, s *Store, evalID int64, hash string) model.Session {
	t.Helper()
	ctx := context.Background()
	id, err := s.CreateSession(ctx, model.Session{Hash: hash, EvaluationID: evalID, UserName: "alice"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	return sess
}

func TestEvaluationCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	list, err := s.ListEvaluations(ctx)
	if err != nil {
		t.Fatalf("ListEvaluations: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}

	e, questions := insertTestEvaluation(t, s, 3)
	if e.TotalQuestions != 3 {
		t.Errorf("expected total_questions 3, got %d", e.TotalQuestions)
	}
	if e.Type != model.EvaluationSelection {
		t.Errorf("expected type SEL, got %q", e.Type)
	}
	if e.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}

	got, err := s.ListQuestions(ctx, e.ID)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(got))
	}
	for i, q := range got {
		if q.Order != i {
			t.Errorf("question %d has order %d", i, q.Order)
		}
	}

	q, err := s.QuestionByOrder(ctx, e.ID, 1)
	if err != nil {
		t.Fatalf("QuestionByOrder: %v", err)
	}
	if q.ID != questions[1].ID {
		t.Errorf("expected question %d at order 1, got %d", questions[1].ID, q.ID)
	}

	if _, err := s.QuestionByOrder(ctx, e.ID, 3); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound past the last order, got %v", err)
	}
	if _, err := s.GetEvaluation(ctx, 9999); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.UpdateEvaluationTitle(ctx, e.ID, "Renamed"); err != nil {
		t.Fatalf("UpdateEvaluationTitle: %v", err)
	}
	e, _ = s.GetEvaluation(ctx, e.ID)
	if e.Title != "Renamed" {
		t.Errorf("expected title 'Renamed', got %q", e.Title)
	}
	if err := s.UpdateEvaluationTitle(ctx, 9999, "x"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound renaming a missing evaluation, got %v", err)
	}
}

func TestQuestionOrderUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e, _ := insertTestEvaluation(t, s, 1)

	_, err := s.InsertQuestion(ctx, model.Question{
		EvaluationID: e.ID, Text: "dup", Order: 0, Kind: model.KindSelection,
	})
	if !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate order, got %v", err)
	}
}

func TestInTxRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.InsertEvaluation(ctx, model.Evaluation{Title: "T", Type: model.EvaluationSelection}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	list, _ := s.ListEvaluations(ctx)
	if len(list) != 0 {
		t.Errorf("expected rollback to leave no evaluations, got %d", len(list))
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e, questions := insertTestEvaluation(t, s, 2)

	sess := insertTestSession(t, s, e.ID, "abc")
	if sess.Completed() {
		t.Error("new session should not be completed")
	}

	byHash, err := s.GetSessionByHash(ctx, "abc")
	if err != nil {
		t.Fatalf("GetSessionByHash: %v", err)
	}
	if byHash.ID != sess.ID || byHash.UserName != "alice" {
		t.Errorf("unexpected session %+v", byHash)
	}
	if _, err := s.GetSessionByHash(ctx, "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Hash is unique.
	if _, err := s.CreateSession(ctx, model.Session{Hash: "abc", EvaluationID: e.ID, UserName: "bob"}); !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate hash, got %v", err)
	}

	p, err := s.SessionProgress(ctx, sess)
	if err != nil {
		t.Fatalf("SessionProgress: %v", err)
	}
	if p.Answered != 0 || p.MaxAnswered != -1 || p.MaxOrder != 1 {
		t.Errorf("unexpected progress %+v", p)
	}

	if _, err := s.InsertAssignment(ctx, model.Assignment{
		SessionID: sess.ID, QuestionID: questions[0].ID, QuestionOrder: 0, Answer: 1,
	}); err != nil {
		t.Fatalf("InsertAssignment: %v", err)
	}
	p, _ = s.SessionProgress(ctx, sess)
	if p.Answered != 1 || p.MaxAnswered != 0 {
		t.Errorf("unexpected progress after one answer %+v", p)
	}

	set, err := s.CompleteSession(ctx, sess.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	if !set {
		t.Error("first CompleteSession should set completed_at")
	}
	first, _ := s.GetSession(ctx, sess.ID)
	if !first.Completed() {
		t.Fatal("expected session to be completed")
	}

	set, err = s.CompleteSession(ctx, sess.ID, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("CompleteSession again: %v", err)
	}
	if set {
		t.Error("second CompleteSession must be a no-op")
	}
	second, _ := s.GetSession(ctx, sess.ID)
	if !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Errorf("completed_at changed from %v to %v", first.CompletedAt, second.CompletedAt)
	}
}

func TestAssignmentUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e, questions := insertTestEvaluation(t, s, 2)
	sess := insertTestSession(t, s, e.ID, "h1")

	a := model.Assignment{SessionID: sess.ID, QuestionID: questions[0].ID, QuestionOrder: 0, Answer: 0}
	if _, err := s.InsertAssignment(ctx, a); err != nil {
		t.Fatalf("InsertAssignment: %v", err)
	}
	if _, err := s.InsertAssignment(ctx, a); !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate (session, question), got %v", err)
	}

	list, err := s.ListAssignments(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListAssignments: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 assignment, got %d", len(list))
	}
}

func TestExportAnswers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e, questions := insertTestEvaluation(t, s, 2)

	done := insertTestSession(t, s, e.ID, "done")
	partial := insertTestSession(t, s, e.ID, "partial")

	for i, answer := range []int{1, 0} {
		if _, err := s.InsertAssignment(ctx, model.Assignment{
			SessionID: done.ID, QuestionID: questions[i].ID, QuestionOrder: i, Answer: answer,
		}); err != nil {
			t.Fatalf("InsertAssignment: %v", err)
		}
	}
	if _, err := s.CompleteSession(ctx, done.ID, time.Now().UTC()); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	if _, err := s.InsertAssignment(ctx, model.Assignment{
		SessionID: partial.ID, QuestionID: questions[0].ID, QuestionOrder: 0, Answer: 1,
	}); err != nil {
		t.Fatalf("InsertAssignment: %v", err)
	}

	export, err := s.ExportAnswers(ctx, e.ID)
	if err != nil {
		t.Fatalf("ExportAnswers: %v", err)
	}
	if len(export) != 2 {
		t.Fatalf("expected 2 orders, got %v", export)
	}
	if len(export[0]) != 1 || export[0][0] != 1 {
		t.Errorf("order 0: expected [1], got %v", export[0])
	}
	if len(export[1]) != 1 || export[1][0] != 0 {
		t.Errorf("order 1: expected [0], got %v", export[1])
	}

	if _, err := s.ExportAnswers(ctx, 9999); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteEvaluationCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e, questions := insertTestEvaluation(t, s, 1)
	sess := insertTestSession(t, s, e.ID, "h")
	if _, err := s.InsertAssignment(ctx, model.Assignment{
		SessionID: sess.ID, QuestionID: questions[0].ID, QuestionOrder: 0, Answer: 0,
	}); err != nil {
		t.Fatalf("InsertAssignment: %v", err)
	}
	if err := s.RecordImport(ctx, "hash", e.ID); err != nil {
		t.Fatalf("RecordImport: %v", err)
	}

	if err := s.InTx(ctx, func(tx *Tx) error { return tx.DeleteEvaluation(ctx, e.ID) }); err != nil {
		t.Fatalf("DeleteEvaluation: %v", err)
	}

	if _, err := s.GetSession(ctx, sess.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected session to be deleted, got %v", err)
	}
	if n, _ := s.QuestionCount(ctx, e.ID); n != 0 {
		t.Errorf("expected no questions, got %d", n)
	}
	if list, _ := s.ListAssignments(ctx, sess.ID); len(list) != 0 {
		t.Errorf("expected no assignments, got %d", len(list))
	}
	if id, _ := s.FindImport(ctx, "hash"); id != 0 {
		t.Errorf("expected import record to be gone, got %d", id)
	}
	if err := s.DeleteEvaluation(ctx, e.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestImportRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.FindImport(ctx, "abc123")
	if err != nil {
		t.Fatalf("FindImport: %v", err)
	}
	if id != 0 {
		t.Errorf("expected 0, got %d", id)
	}

	e, _ := insertTestEvaluation(t, s, 1)
	if err := s.RecordImport(ctx, "abc123", e.ID); err != nil {
		t.Fatalf("RecordImport: %v", err)
	}
	id, _ = s.FindImport(ctx, "abc123")
	if id != e.ID {
		t.Errorf("expected %d, got %d", e.ID, id)
	}
}

func TestListSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e1, q1 := insertTestEvaluation(t, s, 1)
	e2, _ := insertTestEvaluation(t, s, 1)

	a := insertTestSession(t, s, e1.ID, "a")
	insertTestSession(t, s, e2.ID, "b")
	if _, err := s.InsertAssignment(ctx, model.Assignment{
		SessionID: a.ID, QuestionID: q1[0].ID, QuestionOrder: 0, Answer: 1,
	}); err != nil {
		t.Fatalf("InsertAssignment: %v", err)
	}

	all, err := s.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(all))
	}

	filtered, err := s.ListSessions(ctx, e1.ID)
	if err != nil {
		t.Fatalf("ListSessions filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Hash != "a" || filtered[0].Answered != 1 {
		t.Errorf("unexpected filtered sessions %+v", filtered)
	}
	if filtered[0].EvaluationTitle != "Eval" {
		t.Errorf("expected evaluation title 'Eval', got %q", filtered[0].EvaluationTitle)
	}
}

func TestUsersAndAuthSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.UserCount(ctx)
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 users, got %d", count)
	}

	id, err := s.CreateUser(ctx, model.User{
		Username: "admin", DisplayName: "Administrator", PasswordHash: "x",
		Role: model.UserRoleAdmin, Active: true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := s.CreateUser(ctx, model.User{Username: "admin", PasswordHash: "y", Role: model.UserRoleViewer}); !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate username, got %v", err)
	}

	u, err := s.GetUserByUsername(ctx, "admin")
	if err != nil || u == nil {
		t.Fatalf("GetUserByUsername: %v %v", u, err)
	}
	if u.Role != model.UserRoleAdmin || !u.Active {
		t.Errorf("unexpected user %+v", u)
	}
	missing, err := s.GetUserByUsername(ctx, "nobody")
	if err != nil || missing != nil {
		t.Errorf("expected nil user, got %v %v", missing, err)
	}

	if err := s.ToggleUserActive(ctx, id); err != nil {
		t.Fatalf("ToggleUserActive: %v", err)
	}
	u, _ = s.GetUserByID(ctx, id)
	if u.Active {
		t.Error("expected user to be inactive")
	}

	token, err := s.CreateAuthSession(ctx, id)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("expected 64-char token, got %d", len(token))
	}
	as, err := s.GetAuthSession(ctx, token)
	if err != nil || as == nil {
		t.Fatalf("GetAuthSession: %v %v", as, err)
	}
	if as.UserID != id {
		t.Errorf("expected user %d, got %d", id, as.UserID)
	}
	if err := s.DeleteAuthSession(ctx, token); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	as, _ = s.GetAuthSession(ctx, token)
	if as != nil {
		t.Error("expected deleted auth session to be gone")
	}
}
