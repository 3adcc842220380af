package ports

import (
	"context"
	"io"

	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
)

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error)
}

// AnalysisRequester starts an analysis run for an uploaded document. It
// rejects the request with domain.ErrAlreadyInProgress when a run is active.
type AnalysisRequester interface {
	RequestAnalysis(ctx context.Context, documentID string) (*domain.AnalysisRun, error)
}

// AnalysisRunner executes one claimed run end to end. It is driven by the
// queue worker, never called concurrently for the same document.
type AnalysisRunner interface {
	Run(ctx context.Context, documentID, runID string) error
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// ResultReader serves the active (latest succeeded) run's published results.
type ResultReader interface {
	ActiveResults(ctx context.Context, documentID string) (*domain.AnalysisResult, error)
}

// ResultExporter renders the active results in an interchange format.
type ResultExporter interface {
	Export(ctx context.Context, documentID, format string) (data []byte, contentType string, err error)
}
