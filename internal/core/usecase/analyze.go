package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
	"github.com/kirillkom/legal-doc-analyzer/internal/core/ports"
)

// RunConfig bounds one analysis run. Only extraction timeouts are retried;
// every other failure is terminal for the run.
type RunConfig struct {
	ExtractTimeout       time.Duration
	AnalysisStageTimeout time.Duration
	ExtractMaxAttempts   int
	RetryInitialBackoff  time.Duration
	RetryMaxBackoff      time.Duration
}

func (c RunConfig) normalize() RunConfig {
	out := c
	if out.ExtractTimeout <= 0 {
		out.ExtractTimeout = 2 * time.Minute
	}
	if out.AnalysisStageTimeout <= 0 {
		out.AnalysisStageTimeout = time.Minute
	}
	if out.ExtractMaxAttempts <= 0 {
		out.ExtractMaxAttempts = 3
	}
	if out.RetryInitialBackoff <= 0 {
		out.RetryInitialBackoff = 500 * time.Millisecond
	}
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = 4 * out.RetryInitialBackoff
	}
	return out
}

type AnalyzeDocumentUseCase struct {
	docs       ports.DocumentRepository
	runs       ports.RunRepository
	queue      ports.MessageQueue
	extractor  ports.TextExtractor
	classifier ports.DocumentClassifier
	fields     ports.FieldExtractor
	risk       ports.RiskScorer
	observer   ports.RunObserver
	cfg        RunConfig
}

func NewAnalyzeDocumentUseCase(
	docs ports.DocumentRepository,
	runs ports.RunRepository,
	queue ports.MessageQueue,
	extractor ports.TextExtractor,
	classifier ports.DocumentClassifier,
	fields ports.FieldExtractor,
	risk ports.RiskScorer,
	cfg RunConfig,
) *AnalyzeDocumentUseCase {
	return &AnalyzeDocumentUseCase{
		docs:       docs,
		runs:       runs,
		queue:      queue,
		extractor:  extractor,
		classifier: classifier,
		fields:     fields,
		risk:       risk,
		cfg:        cfg.normalize(),
	}
}

// SetObserver installs a progress observer. Install before the first Run.
func (uc *AnalyzeDocumentUseCase) SetObserver(observer ports.RunObserver) {
	uc.observer = observer
}

// RequestAnalysis claims a run for the document and enqueues it. The claim is
// atomic in the store, so concurrent requests for the same document race for
// one slot and the losers get domain.ErrAlreadyInProgress.
func (uc *AnalyzeDocumentUseCase) RequestAnalysis(ctx context.Context, documentID string) (*domain.AnalysisRun, error) {
	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}

	run := &domain.AnalysisRun{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		State:      domain.RunRunning,
		StartedAt:  time.Now().UTC(),
	}
	if err := uc.runs.BeginRun(ctx, run); err != nil {
		return nil, err
	}

	if err := uc.queue.PublishAnalysisRequested(ctx, doc.ID, run.ID); err != nil {
		queueErr := fmt.Errorf("publish analysis request: %w", err)
		if failErr := uc.runs.FailRun(ctx, run.ID, domain.StageNone, queueErr); failErr != nil {
			slog.Error("release_claimed_run", "run_id", run.ID, "error", failErr)
		}
		return nil, queueErr
	}
	return run, nil
}

// Run executes a claimed run end to end: extraction with bounded
// timeout-retry, then the three analysis components, then an atomic publish.
// Any failure lands the run and the document in their terminal failed states,
// even when the caller's context is already canceled.
func (uc *AnalyzeDocumentUseCase) Run(ctx context.Context, documentID, runID string) error {
	run, err := uc.runs.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("fetch run: %w", err)
	}
	if run.DocumentID != documentID {
		return domain.WrapError(domain.ErrInvalidInput, "run",
			fmt.Errorf("run %s belongs to document %s, not %s", runID, run.DocumentID, documentID))
	}
	if run.State != domain.RunRunning {
		// Redelivered message for a finished run.
		slog.Warn("skip_finished_run", "run_id", runID, "state", string(run.State))
		return nil
	}

	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}

	// A status write failure is terminal for the run too: returning without
	// failing it would leave the claim running forever and lock the document
	// out of new runs.
	if err := uc.markStatus(ctx, documentID, domain.StatusExtracting); err != nil {
		return uc.failRun(ctx, documentID, runID, domain.StageNone, err)
	}
	uc.setStage(ctx, runID, domain.StageExtraction)
	extractStart := time.Now()
	text, err := uc.extractWithRetry(ctx, doc, runID)
	uc.observeStage(domain.StageExtraction, time.Since(extractStart))
	if err != nil {
		return uc.failRun(ctx, documentID, runID, domain.StageExtraction, err)
	}
	text.RunID = runID
	text.DocumentID = documentID
	if err := uc.markStatus(ctx, documentID, domain.StatusExtracted); err != nil {
		return uc.failRun(ctx, documentID, runID, domain.StageNone, err)
	}

	if err := uc.markStatus(ctx, documentID, domain.StatusAnalyzing); err != nil {
		return uc.failRun(ctx, documentID, runID, domain.StageNone, err)
	}
	cls, fields, findings, err := uc.analyze(ctx, text)
	if err != nil {
		stage := domain.StageNone
		var sErr *stageError
		if errors.As(err, &sErr) {
			stage = sErr.stage
		}
		return uc.failRun(ctx, documentID, runID, stage, err)
	}

	if err := uc.runs.PublishResults(ctx, runID, text, cls, fields, findings); err != nil {
		return uc.failRun(ctx, documentID, runID, domain.StageNone, fmt.Errorf("publish results: %w", err))
	}
	return uc.markStatus(ctx, documentID, domain.StatusAnalyzed)
}

func (uc *AnalyzeDocumentUseCase) extractWithRetry(ctx context.Context, doc *domain.Document, runID string) (*domain.ExtractedText, error) {
	backoff := uc.cfg.RetryInitialBackoff

	for attempt := 1; ; attempt++ {
		if err := uc.runs.RecordAttempt(ctx, runID); err != nil {
			slog.Warn("record_attempt", "run_id", runID, "error", err)
		}

		extractCtx, cancel := context.WithTimeout(ctx, uc.cfg.ExtractTimeout)
		text, err := uc.extractor.Extract(extractCtx, doc)
		cancel()
		if err == nil {
			return text, nil
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = domain.WrapError(domain.ErrExtractionTimeout, "extract text", err)
		}
		if ctx.Err() != nil || !domain.IsKind(err, domain.ErrExtractionTimeout) || attempt >= uc.cfg.ExtractMaxAttempts {
			return nil, err
		}

		uc.recordRetry()
		slog.Warn("extraction_retry",
			"document_id", doc.ID,
			"run_id", runID,
			"attempt", attempt,
			"max_attempts", uc.cfg.ExtractMaxAttempts,
			"backoff_ms", float64(backoff.Microseconds())/1000.0,
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		case <-timer.C:
		}
		backoff *= 2
		if backoff > uc.cfg.RetryMaxBackoff {
			backoff = uc.cfg.RetryMaxBackoff
		}
	}
}

// analyze fans the analysis components out over the same extracted text.
// Classification runs concurrently with field extraction; risk scoring follows
// field extraction in its branch so field-conditioned rules see the fields.
// The first component error cancels the sibling branch and fails the run.
func (uc *AnalyzeDocumentUseCase) analyze(ctx context.Context, text *domain.ExtractedText) (
	domain.Classification, []domain.ExtractedField, []domain.RiskFinding, error,
) {
	var (
		cls      domain.Classification
		fields   []domain.ExtractedField
		findings []domain.RiskFinding
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stageCtx, cancel := context.WithTimeout(gctx, uc.cfg.AnalysisStageTimeout)
		defer cancel()
		uc.setStage(gctx, text.RunID, domain.StageClassification)
		start := time.Now()
		c, err := uc.classifier.Classify(stageCtx, text)
		uc.observeStage(domain.StageClassification, time.Since(start))
		if err != nil {
			return &stageError{
				stage: domain.StageClassification,
				err:   domain.WrapError(domain.ErrAnalysisFailed, "classify document", err),
			}
		}
		cls = c
		return nil
	})
	g.Go(func() error {
		fieldCtx, cancel := context.WithTimeout(gctx, uc.cfg.AnalysisStageTimeout)
		uc.setStage(gctx, text.RunID, domain.StageFields)
		start := time.Now()
		fs, err := uc.fields.ExtractFields(fieldCtx, text)
		uc.observeStage(domain.StageFields, time.Since(start))
		cancel()
		if err != nil {
			return &stageError{
				stage: domain.StageFields,
				err:   domain.WrapError(domain.ErrAnalysisFailed, "extract fields", err),
			}
		}
		fields = fs

		riskCtx, cancel := context.WithTimeout(gctx, uc.cfg.AnalysisStageTimeout)
		uc.setStage(gctx, text.RunID, domain.StageRisk)
		start = time.Now()
		fnd, err := uc.risk.Score(riskCtx, text, fs)
		uc.observeStage(domain.StageRisk, time.Since(start))
		cancel()
		if err != nil {
			return &stageError{
				stage: domain.StageRisk,
				err:   domain.WrapError(domain.ErrAnalysisFailed, "score risk", err),
			}
		}
		findings = fnd
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.Classification{}, nil, nil, err
	}

	if err := uc.stampAndValidate(text, &cls, fields, findings); err != nil {
		return domain.Classification{}, nil, nil, err
	}
	domain.SortFindings(findings)
	return cls, fields, findings, nil
}

// stampAndValidate assigns identities and enforces the provenance invariant:
// every span must lie within the extracted text it references.
func (uc *AnalyzeDocumentUseCase) stampAndValidate(
	text *domain.ExtractedText,
	cls *domain.Classification,
	fields []domain.ExtractedField,
	findings []domain.RiskFinding,
) error {
	cls.DocumentID = text.DocumentID
	cls.RunID = text.RunID

	for i := range fields {
		if !fields[i].Span.Within(text.CharCount) {
			return domain.WrapError(domain.ErrAnalysisFailed, "validate fields",
				fmt.Errorf("field %s span [%d,%d) outside text of %d chars",
					fields[i].Kind, fields[i].Span.Start, fields[i].Span.End, text.CharCount))
		}
		fields[i].ID = uuid.NewString()
		fields[i].DocumentID = text.DocumentID
		fields[i].RunID = text.RunID
	}
	for i := range findings {
		if !findings[i].Span.Within(text.CharCount) {
			return domain.WrapError(domain.ErrAnalysisFailed, "validate findings",
				fmt.Errorf("finding %s span [%d,%d) outside text of %d chars",
					findings[i].RuleID, findings[i].Span.Start, findings[i].Span.End, text.CharCount))
		}
		findings[i].ID = uuid.NewString()
		findings[i].DocumentID = text.DocumentID
		findings[i].RunID = text.RunID
	}
	return nil
}

// failRun records the terminal failure on both the run and the document. The
// bookkeeping writes run on a detached context so a canceled run still lands
// in failed instead of dangling mid-pipeline.
func (uc *AnalyzeDocumentUseCase) failRun(ctx context.Context, documentID, runID string, stage domain.RunStage, runErr error) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := uc.runs.FailRun(writeCtx, runID, stage, runErr); err != nil {
		return fmt.Errorf("%w; record run failure: %v", runErr, err)
	}
	if err := uc.docs.UpdateStatus(writeCtx, documentID, domain.StatusFailed, runErr.Error()); err != nil {
		return fmt.Errorf("%w; mark document failed: %v", runErr, err)
	}
	return runErr
}

// setStage records advisory progress on the run row. The concurrent analysis
// branches write last-wins; the definitive failing stage comes from FailRun.
func (uc *AnalyzeDocumentUseCase) setStage(ctx context.Context, runID string, stage domain.RunStage) {
	if err := uc.runs.SetStage(ctx, runID, stage); err != nil {
		slog.Warn("set_stage", "run_id", runID, "stage", string(stage), "error", err)
	}
}

func (uc *AnalyzeDocumentUseCase) observeStage(stage domain.RunStage, duration time.Duration) {
	if uc.observer != nil {
		uc.observer.ObserveStage(stage, duration)
	}
}

func (uc *AnalyzeDocumentUseCase) recordRetry() {
	if uc.observer != nil {
		uc.observer.RecordRetry()
	}
}

func (uc *AnalyzeDocumentUseCase) markStatus(ctx context.Context, documentID string, status domain.DocumentStatus) error {
	if err := uc.docs.UpdateStatus(ctx, documentID, status, ""); err != nil {
		return fmt.Errorf("set status=%s: %w", status, err)
	}
	return nil
}

type stageError struct {
	stage domain.RunStage
	err   error
}

func (e *stageError) Error() string {
	return fmt.Sprintf("%s: %v", e.stage, e.err)
}

func (e *stageError) Unwrap() error { return e.err }
