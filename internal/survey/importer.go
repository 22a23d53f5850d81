package survey

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pavelanni/imageeval/internal/archive"
	"github.com/pavelanni/imageeval/internal/blob"
	"github.com/pavelanni/imageeval/internal/model"
	"github.com/pavelanni/imageeval/internal/store"
)

// DuplicateArchiveError reports that the same archive already produced an evaluation.
type DuplicateArchiveError struct {
	EvaluationID int64
}

func (e *DuplicateArchiveError) Error() string {
	return fmt.Sprintf("archive already imported as evaluation %d", e.EvaluationID)
}

// NewEvaluation is the admin's bulk-create request.
type NewEvaluation struct {
	Title        string
	Type         model.EvaluationType
	QuestionText string
	Archive      []byte
	// AllowDuplicate imports an archive even if its content was imported before.
	AllowDuplicate bool
}

// CreateEvaluation parses the archive and persists the evaluation, its questions
// and their images. Images are staged under a fresh media prefix before the rows
// are written in one short transaction; when either step fails the staged prefix
// is removed, so nothing of the evaluation survives.
//
// Archive problems are returned as *archive.ImportError.
func (s *Service) CreateEvaluation(ctx context.Context, req NewEvaluation) (model.Evaluation, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.QuestionText = strings.TrimSpace(req.QuestionText)
	if req.Title == "" {
		return model.Evaluation{}, model.NewValidationError(model.ReasonInvalidRequest, "title is required")
	}
	if !req.Type.Valid() {
		return model.Evaluation{}, model.NewValidationError(model.ReasonInvalidRequest,
			fmt.Sprintf("unknown evaluation type %q", req.Type))
	}

	sum := sha256.Sum256(req.Archive)
	hash := hex.EncodeToString(sum[:])
	if !req.AllowDuplicate {
		prev, err := s.store.FindImport(ctx, hash)
		if err != nil {
			return model.Evaluation{}, fmt.Errorf("check import status: %w", err)
		}
		if prev != 0 {
			return model.Evaluation{}, &DuplicateArchiveError{EvaluationID: prev}
		}
	}

	parsed, err := archive.Parse(req.Archive, req.Type)
	if err != nil {
		slog.Warn("archive rejected", "title", req.Title, "type", req.Type, "cause", errors.Unwrap(err))
		return model.Evaluation{}, err
	}
	labels, err := parsed.LabelsJSON()
	if err != nil {
		return model.Evaluation{}, &archive.ImportError{Cause: err}
	}

	prefix := blob.MediaPrefix(uuid.NewString())
	questions, err := s.stageImages(ctx, prefix, parsed.Items)
	if err != nil {
		s.discardMedia(ctx, prefix)
		return model.Evaluation{}, err
	}

	eval := model.Evaluation{
		Title:       req.Title,
		Type:        req.Type,
		CreatedAt:   s.now(),
		MediaPrefix: prefix,
	}
	err = s.store.InTx(ctx, func(tx *store.Tx) error {
		id, err := tx.InsertEvaluation(ctx, eval)
		if err != nil {
			return fmt.Errorf("insert evaluation: %w", err)
		}
		for _, q := range questions {
			q.EvaluationID = id
			q.Text = req.QuestionText
			q.Answers = labels
			if _, err := tx.InsertQuestion(ctx, q); err != nil {
				return fmt.Errorf("insert question %d: %w", q.Order, err)
			}
		}

		count, err := tx.QuestionCount(ctx, id)
		if err != nil {
			return err
		}
		if count != len(questions) {
			return fmt.Errorf("stored %d questions, expected %d", count, len(questions))
		}
		if err := tx.SetTotalQuestions(ctx, id, count); err != nil {
			return fmt.Errorf("set total questions: %w", err)
		}
		if err := tx.RecordImport(ctx, hash, id); err != nil {
			return fmt.Errorf("record import: %w", err)
		}
		eval.ID, eval.TotalQuestions = id, count
		return nil
	})
	if err != nil {
		s.discardMedia(ctx, prefix)
		return model.Evaluation{}, err
	}

	slog.Info("evaluation created", "evaluation_id", eval.ID, "title", eval.Title,
		"type", eval.Type, "questions", eval.TotalQuestions)
	return eval, nil
}

// stageImages writes every item's images below prefix and returns the question
// rows referencing them, in order.
func (s *Service) stageImages(ctx context.Context, prefix string, items []archive.Item) ([]model.Question, error) {
	questions := make([]model.Question, 0, len(items))
	for order, item := range items {
		q := model.Question{Order: order}
		put := func(img archive.Image, side string) (string, error) {
			key := blob.QuestionKey(prefix, order, side, img.Ext())
			if err := s.blobs.Put(ctx, key, img.Data); err != nil {
				return "", fmt.Errorf("store image %s: %w", img.Name, err)
			}
			return key, nil
		}

		var err error
		if item.Image.Data != nil {
			q.Kind = model.KindClassification
			q.Image, err = put(item.Image, "i")
		} else {
			q.Kind = model.KindSelection
			if q.LeftImage, err = put(item.Left, "l"); err == nil {
				q.RightImage, err = put(item.Right, "r")
			}
		}
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, nil
}

// discardMedia removes a staged prefix, ignoring cancellation of ctx.
func (s *Service) discardMedia(ctx context.Context, prefix string) {
	if err := s.blobs.DeletePrefix(context.WithoutCancel(ctx), prefix); err != nil {
		slog.Error("failed to remove staged images", "prefix", prefix, "error", err)
	}
}

// DeleteEvaluation removes an evaluation, everything recorded for it and its images.
func (s *Service) DeleteEvaluation(ctx context.Context, id int64) error {
	var prefix string
	if err := s.store.InTx(ctx, func(tx *store.Tx) error {
		eval, err := tx.GetEvaluation(ctx, id)
		if err != nil {
			return err
		}
		prefix = eval.MediaPrefix
		return tx.DeleteEvaluation(ctx, id)
	}); err != nil {
		return err
	}
	if prefix != "" {
		if err := s.blobs.DeletePrefix(ctx, prefix); err != nil {
			slog.Error("failed to delete evaluation images", "evaluation_id", id, "prefix", prefix, "error", err)
		}
	}
	slog.Info("evaluation deleted", "evaluation_id", id)
	return nil
}

// RenameEvaluation changes an evaluation's title.
func (s *Service) RenameEvaluation(ctx context.Context, id int64, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.NewValidationError(model.ReasonInvalidRequest, "title is required")
	}
	return s.store.UpdateEvaluationTitle(ctx, id, title)
}
