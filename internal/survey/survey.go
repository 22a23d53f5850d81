// Package survey holds the evaluation workflow: archive import, session
// sequencing, answer recording and result export.
package survey

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/imageeval/internal/blob"
	"github.com/pavelanni/imageeval/internal/model"
	"github.com/pavelanni/imageeval/internal/store"
)

// Service coordinates the store and blob storage for one deployment.
type Service struct {
	store *store.Store
	blobs blob.Store
	now   func() time.Time
}

// New creates a Service.
func New(s *store.Store, b blob.Store) *Service {
	return &Service{store: s, blobs: b, now: func() time.Time { return time.Now().UTC() }}
}

// NewSessionHash returns a 32-character lowercase hex token with 122 random bits.
func NewSessionHash() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// StartSession opens a session for a participant.
func (s *Service) StartSession(ctx context.Context, evaluationID int64, name, comment string) (model.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Session{}, model.NewValidationError(model.ReasonMissingName, "")
	}
	if _, err := s.store.GetEvaluation(ctx, evaluationID); err != nil {
		return model.Session{}, err
	}

	sess := model.Session{
		Hash:         NewSessionHash(),
		EvaluationID: evaluationID,
		UserName:     name,
		Comment:      strings.TrimSpace(comment),
		CreatedAt:    s.now(),
	}
	id, err := s.store.CreateSession(ctx, sess)
	if err != nil {
		return model.Session{}, err
	}
	sess.ID = id
	slog.Info("session started", "session_id", id, "evaluation_id", evaluationID)
	return sess, nil
}
