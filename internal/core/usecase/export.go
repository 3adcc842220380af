package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
	"github.com/kirillkom/legal-doc-analyzer/internal/core/ports"
)

type ExportResultsUseCase struct {
	docs      ports.DocumentRepository
	results   ports.ResultReader
	renderers map[string]ports.ResultRenderer
}

func NewExportResultsUseCase(
	docs ports.DocumentRepository,
	results ports.ResultReader,
	renderers map[string]ports.ResultRenderer,
) *ExportResultsUseCase {
	return &ExportResultsUseCase{
		docs:      docs,
		results:   results,
		renderers: renderers,
	}
}

func (uc *ExportResultsUseCase) Export(ctx context.Context, documentID, format string) ([]byte, string, error) {
	renderer, ok := uc.renderers[format]
	if !ok {
		return nil, "", domain.WrapError(domain.ErrInvalidInput, "export",
			fmt.Errorf("unsupported export format %q", format))
	}

	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, "", fmt.Errorf("fetch document: %w", err)
	}
	result, err := uc.results.ActiveResults(ctx, documentID)
	if err != nil {
		return nil, "", err
	}

	data, err := renderer.Render(doc, result)
	if err != nil {
		return nil, "", fmt.Errorf("render %s export: %w", format, err)
	}
	return data, renderer.ContentType(), nil
}
