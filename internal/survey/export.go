package survey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/imageeval/internal/model"
)

// Export aggregates the answers of completed sessions per question order.
func (s *Service) Export(ctx context.Context, evaluationID int64) (model.EvaluationExport, error) {
	return s.store.ExportAnswers(ctx, evaluationID)
}

// ExportJSON renders Export as a JSON object keyed by stringified order.
func (s *Service) ExportJSON(ctx context.Context, evaluationID int64) ([]byte, error) {
	export, err := s.Export(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(export)
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}
	return data, nil
}
