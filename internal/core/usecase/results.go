package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
	"github.com/kirillkom/legal-doc-analyzer/internal/core/ports"
)

// ResultsUseCase reads published analysis output. Only the latest succeeded
// run is active for querying; running and failed runs never surface results.
type ResultsUseCase struct {
	docs ports.DocumentRepository
	runs ports.RunRepository
}

func NewResultsUseCase(docs ports.DocumentRepository, runs ports.RunRepository) *ResultsUseCase {
	return &ResultsUseCase{docs: docs, runs: runs}
}

func (uc *ResultsUseCase) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	return uc.docs.GetByID(ctx, id)
}

func (uc *ResultsUseCase) ActiveResults(ctx context.Context, documentID string) (*domain.AnalysisResult, error) {
	if _, err := uc.docs.GetByID(ctx, documentID); err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}

	run, err := uc.runs.LatestSucceededRun(ctx, documentID)
	if err != nil {
		return nil, err
	}

	result, err := uc.runs.ResultsByRun(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch results for run %s: %w", run.ID, err)
	}
	domain.SortFindings(result.Findings)
	return result, nil
}

// LastRun reports the most recent run regardless of outcome, so callers can
// inspect a failure (stage, error kind, timestamps) and decide on a retry.
func (uc *ResultsUseCase) LastRun(ctx context.Context, documentID string) (*domain.AnalysisRun, error) {
	return uc.runs.LatestRun(ctx, documentID)
}
