package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
}

// RunRepository owns analysis runs and their result sets. BeginRun must
// atomically refuse a second concurrent run for the same document with
// domain.ErrAlreadyInProgress; PublishResults must commit the run's success
// transition and its result rows in one transaction, so readers never observe
// a partial result set.
type RunRepository interface {
	BeginRun(ctx context.Context, run *domain.AnalysisRun) error
	GetRun(ctx context.Context, runID string) (*domain.AnalysisRun, error)
	RecordAttempt(ctx context.Context, runID string) error
	SetStage(ctx context.Context, runID string, stage domain.RunStage) error
	FailRun(ctx context.Context, runID string, stage domain.RunStage, runErr error) error
	PublishResults(ctx context.Context, runID string, text *domain.ExtractedText,
		cls domain.Classification, fields []domain.ExtractedField, findings []domain.RiskFinding) error
	ActiveRun(ctx context.Context, documentID string) (*domain.AnalysisRun, error)
	LatestRun(ctx context.Context, documentID string) (*domain.AnalysisRun, error)
	LatestSucceededRun(ctx context.Context, documentID string) (*domain.AnalysisRun, error)
	ResultsByRun(ctx context.Context, runID string) (*domain.AnalysisResult, error)
}

// ObjectStorage stores source documents. Delete is best-effort cleanup for
// blobs whose upload was rejected; deleting a missing key is not an error.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// RunObserver receives run progress signals for monitoring. Implementations
// must be safe for concurrent use.
type RunObserver interface {
	ObserveStage(stage domain.RunStage, duration time.Duration)
	RecordRetry()
}

// MessageQueue publishes/consumes analysis-run requests. The payload pairs a
// document with the run claimed for it.
type MessageQueue interface {
	PublishAnalysisRequested(ctx context.Context, documentID, runID string) error
	SubscribeAnalysisRequested(ctx context.Context, handler func(ctx context.Context, documentID, runID string) error) error
}

// TextExtractor converts a stored document into positional extracted text.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (*domain.ExtractedText, error)
}

// DocumentClassifier assigns exactly one label to extracted text. It must not
// fail on well-formed input; unrecognized content yields LabelUnknown.
type DocumentClassifier interface {
	Classify(ctx context.Context, text *domain.ExtractedText) (domain.Classification, error)
}

// FieldExtractor finds structured fields with provenance spans. Finding zero
// fields of a kind is not an error.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, text *domain.ExtractedText) ([]domain.ExtractedField, error)
}

// RiskScorer evaluates the risk rule set over extracted text and fields.
type RiskScorer interface {
	Score(ctx context.Context, text *domain.ExtractedText, fields []domain.ExtractedField) ([]domain.RiskFinding, error)
}

// OCREngine recognizes text on one page of a source document. The engine
// renders the page itself. Confidence is its own estimate in [0,1].
type OCREngine interface {
	Recognize(ctx context.Context, doc []byte, page int) (text string, confidence float64, err error)
}

// ResultRenderer encodes one published result set into an interchange format.
type ResultRenderer interface {
	ContentType() string
	Render(doc *domain.Document, result *domain.AnalysisResult) ([]byte, error)
}
