package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
)

type analyzeDocsFake struct {
	mu           sync.Mutex
	doc          *domain.Document
	getErr       error
	failOnStatus domain.DocumentStatus
	statusErr    error
	statusCalls  []domain.DocumentStatus
	lastErrMsg   string
}

func (f *analyzeDocsFake) Create(context.Context, *domain.Document) error { return nil }

func (f *analyzeDocsFake) GetByID(context.Context, string) (*domain.Document, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	copyDoc := *f.doc
	return &copyDoc, nil
}

func (f *analyzeDocsFake) UpdateStatus(_ context.Context, _ string, status domain.DocumentStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil && status == f.failOnStatus {
		return f.statusErr
	}
	f.statusCalls = append(f.statusCalls, status)
	f.lastErrMsg = errMessage
	return nil
}

type publishedSet struct {
	text     *domain.ExtractedText
	cls      domain.Classification
	fields   []domain.ExtractedField
	findings []domain.RiskFinding
}

type analyzeRunsFake struct {
	mu         sync.Mutex
	run        *domain.AnalysisRun
	beginErr   error
	began      []*domain.AnalysisRun
	attempts   int
	stages     []domain.RunStage
	failedWith error
	failStage  domain.RunStage
	published  *publishedSet
}

func (f *analyzeRunsFake) BeginRun(_ context.Context, run *domain.AnalysisRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beginErr != nil {
		return f.beginErr
	}
	copyRun := *run
	f.began = append(f.began, &copyRun)
	return nil
}

func (f *analyzeRunsFake) GetRun(context.Context, string) (*domain.AnalysisRun, error) {
	copyRun := *f.run
	return &copyRun, nil
}

func (f *analyzeRunsFake) RecordAttempt(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	return nil
}

func (f *analyzeRunsFake) SetStage(_ context.Context, _ string, stage domain.RunStage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
	return nil
}

func (f *analyzeRunsFake) FailRun(_ context.Context, _ string, stage domain.RunStage, runErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedWith = runErr
	f.failStage = stage
	return nil
}

func (f *analyzeRunsFake) PublishResults(_ context.Context, _ string, text *domain.ExtractedText,
	cls domain.Classification, fields []domain.ExtractedField, findings []domain.RiskFinding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = &publishedSet{text: text, cls: cls, fields: fields, findings: findings}
	return nil
}

func (f *analyzeRunsFake) ActiveRun(context.Context, string) (*domain.AnalysisRun, error) {
	return nil, domain.ErrResultsNotFound
}

func (f *analyzeRunsFake) LatestRun(context.Context, string) (*domain.AnalysisRun, error) {
	return nil, domain.ErrResultsNotFound
}

func (f *analyzeRunsFake) LatestSucceededRun(context.Context, string) (*domain.AnalysisRun, error) {
	return nil, domain.ErrResultsNotFound
}

func (f *analyzeRunsFake) ResultsByRun(context.Context, string) (*domain.AnalysisResult, error) {
	return nil, domain.ErrResultsNotFound
}

type analyzeQueueFake struct {
	publishErr error
	published  []string
}

func (f *analyzeQueueFake) PublishAnalysisRequested(_ context.Context, documentID, runID string) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, documentID+"/"+runID)
	return nil
}

func (f *analyzeQueueFake) SubscribeAnalysisRequested(context.Context, func(context.Context, string, string) error) error {
	return errors.New("not implemented")
}

type analyzeExtractorFake struct {
	mu    sync.Mutex
	text  *domain.ExtractedText
	errs  []error
	calls int
}

func (f *analyzeExtractorFake) Extract(context.Context, *domain.Document) (*domain.ExtractedText, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	copyText := *f.text
	return &copyText, nil
}

type analyzeClassifierFake struct {
	cls domain.Classification
	err error
}

func (f *analyzeClassifierFake) Classify(context.Context, *domain.ExtractedText) (domain.Classification, error) {
	if f.err != nil {
		return domain.Classification{}, f.err
	}
	return f.cls, nil
}

type analyzeFieldsFake struct {
	fields []domain.ExtractedField
	err    error
}

func (f *analyzeFieldsFake) ExtractFields(context.Context, *domain.ExtractedText) ([]domain.ExtractedField, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.fields, nil
}

type analyzeRiskFake struct {
	findings []domain.RiskFinding
	err      error
	gotField bool
}

func (f *analyzeRiskFake) Score(_ context.Context, _ *domain.ExtractedText, fields []domain.ExtractedField) ([]domain.RiskFinding, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.gotField = len(fields) > 0
	return f.findings, nil
}

type analyzeObserverFake struct {
	mu      sync.Mutex
	stages  map[domain.RunStage]int
	retries int
}

func (f *analyzeObserverFake) ObserveStage(stage domain.RunStage, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stages == nil {
		f.stages = map[domain.RunStage]int{}
	}
	f.stages[stage]++
}

func (f *analyzeObserverFake) RecordRetry() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries++
}

func sampleText() *domain.ExtractedText {
	return &domain.ExtractedText{
		ID: "text-1",
		Segments: []domain.Segment{
			{Page: 1, Span: domain.Span{Start: 0, End: 10}, Text: "page one..", Confidence: 1},
			{Page: 2, Span: domain.Span{Start: 10, End: 20}, Text: "page two..", Confidence: 1},
			{Page: 3, Span: domain.Span{Start: 20, End: 30}, Text: "page three", Confidence: 1},
		},
		CharCount: 30,
	}
}

func newAnalyzeUC(
	docs *analyzeDocsFake,
	runs *analyzeRunsFake,
	queue *analyzeQueueFake,
	extractor *analyzeExtractorFake,
	classifier *analyzeClassifierFake,
	fields *analyzeFieldsFake,
	risk *analyzeRiskFake,
) *AnalyzeDocumentUseCase {
	return NewAnalyzeDocumentUseCase(docs, runs, queue, extractor, classifier, fields, risk, RunConfig{
		ExtractTimeout:       time.Second,
		AnalysisStageTimeout: time.Second,
		ExtractMaxAttempts:   3,
		RetryInitialBackoff:  time.Millisecond,
		RetryMaxBackoff:      2 * time.Millisecond,
	})
}

func TestRunSuccessWalksFullLifecycle(t *testing.T) {
	docs := &analyzeDocsFake{doc: &domain.Document{ID: "doc-1", Status: domain.StatusUploaded}}
	runs := &analyzeRunsFake{run: &domain.AnalysisRun{ID: "run-1", DocumentID: "doc-1", State: domain.RunRunning}}
	uc := newAnalyzeUC(docs, runs, &analyzeQueueFake{},
		&analyzeExtractorFake{text: sampleText()},
		&analyzeClassifierFake{cls: domain.Classification{Label: domain.LabelContract, Confidence: 0.8}},
		&analyzeFieldsFake{fields: []domain.ExtractedField{
			{Kind: domain.FieldParty, Value: "Acme Corp", Span: domain.Span{Start: 0, End: 9}, Confidence: 0.9},
		}},
		&analyzeRiskFake{findings: []domain.RiskFinding{
			{RuleID: "low", Severity: domain.SeverityLow, Span: domain.Span{Start: 1, End: 4}},
			{RuleID: "high", Severity: domain.SeverityHigh, Span: domain.Span{Start: 12, End: 18}},
		}},
	)

	if err := uc.Run(context.Background(), "doc-1", "run-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantStatuses := []domain.DocumentStatus{
		domain.StatusExtracting, domain.StatusExtracted, domain.StatusAnalyzing, domain.StatusAnalyzed,
	}
	if len(docs.statusCalls) != len(wantStatuses) {
		t.Fatalf("status calls = %v", docs.statusCalls)
	}
	for i, want := range wantStatuses {
		if docs.statusCalls[i] != want {
			t.Fatalf("status[%d] = %s, want %s", i, docs.statusCalls[i], want)
		}
	}
	if runs.published == nil {
		t.Fatalf("expected published results")
	}
	if runs.published.findings[0].RuleID != "high" {
		t.Fatalf("expected severity-descending findings, got %+v", runs.published.findings)
	}
	if runs.published.cls.RunID != "run-1" || runs.published.fields[0].RunID != "run-1" {
		t.Fatalf("expected results stamped with run id")
	}
}

func TestRunStatusWriteFailureStillFailsClaimedRun(t *testing.T) {
	docs := &analyzeDocsFake{
		doc:          &domain.Document{ID: "doc-1", Status: domain.StatusUploaded},
		failOnStatus: domain.StatusExtracted,
		statusErr:    errors.New("db connection reset"),
	}
	runs := &analyzeRunsFake{run: &domain.AnalysisRun{ID: "run-1", DocumentID: "doc-1", State: domain.RunRunning}}
	uc := newAnalyzeUC(docs, runs, &analyzeQueueFake{},
		&analyzeExtractorFake{text: sampleText()},
		&analyzeClassifierFake{}, &analyzeFieldsFake{}, &analyzeRiskFake{})

	err := uc.Run(context.Background(), "doc-1", "run-1")
	if err == nil || !strings.Contains(err.Error(), "db connection reset") {
		t.Fatalf("expected status write error, got %v", err)
	}
	if runs.failedWith == nil {
		t.Fatalf("claimed run must be failed when a status write fails, or the document stays locked")
	}
	last := docs.statusCalls[len(docs.statusCalls)-1]
	if last != domain.StatusFailed {
		t.Fatalf("expected a document failed write, got %v", docs.statusCalls)
	}
}

func TestRunRecordsStageProgress(t *testing.T) {
	docs := &analyzeDocsFake{doc: &domain.Document{ID: "doc-1", Status: domain.StatusUploaded}}
	runs := &analyzeRunsFake{run: &domain.AnalysisRun{ID: "run-1", DocumentID: "doc-1", State: domain.RunRunning}}
	observer := &analyzeObserverFake{}
	uc := newAnalyzeUC(docs, runs, &analyzeQueueFake{},
		&analyzeExtractorFake{text: sampleText()},
		&analyzeClassifierFake{cls: domain.Classification{Label: domain.LabelContract, Confidence: 0.8}},
		&analyzeFieldsFake{}, &analyzeRiskFake{})
	uc.SetObserver(observer)

	if err := uc.Run(context.Background(), "doc-1", "run-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantStages := []domain.RunStage{
		domain.StageExtraction, domain.StageClassification, domain.StageFields, domain.StageRisk,
	}
	seen := map[domain.RunStage]bool{}
	for _, stage := range runs.stages {
		seen[stage] = true
	}
	for _, want := range wantStages {
		if !seen[want] {
			t.Fatalf("stage %q never written to the run, got %v", want, runs.stages)
		}
		if observer.stages[want] != 1 {
			t.Fatalf("stage %q duration observed %d times", want, observer.stages[want])
		}
	}
	if observer.retries != 0 {
		t.Fatalf("expected no retries, got %d", observer.retries)
	}
}

func TestRunCountsExtractionRetries(t *testing.T) {
	docs := &analyzeDocsFake{doc: &domain.Document{ID: "doc-1"}}
	runs := &analyzeRunsFake{run: &domain.AnalysisRun{ID: "run-1", DocumentID: "doc-1", State: domain.RunRunning}}
	timeoutErr := domain.WrapError(domain.ErrExtractionTimeout, "extract text", context.DeadlineExceeded)
	observer := &analyzeObserverFake{}
	uc := newAnalyzeUC(docs, runs, &analyzeQueueFake{},
		&analyzeExtractorFake{text: sampleText(), errs: []error{timeoutErr, timeoutErr, nil}},
		&analyzeClassifierFake{}, &analyzeFieldsFake{}, &analyzeRiskFake{})
	uc.SetObserver(observer)

	if err := uc.Run(context.Background(), "doc-1", "run-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if observer.retries != 2 {
		t.Fatalf("expected 2 recorded retries, got %d", observer.retries)
	}
}

func TestRunCorruptInputFailsWithoutRetry(t *testing.T) {
	docs := &analyzeDocsFake{doc: &domain.Document{ID: "doc-1"}}
	runs := &analyzeRunsFake{run: &domain.AnalysisRun{ID: "run-1", DocumentID: "doc-1", State: domain.RunRunning}}
	extractor := &analyzeExtractorFake{errs: []error{
		domain.WrapError(domain.ErrCorruptInput, "parse pdf", errors.New("zero-byte file")),
	}}
	uc := newAnalyzeUC(docs, runs, &analyzeQueueFake{}, extractor,
		&analyzeClassifierFake{}, &analyzeFieldsFake{}, &analyzeRiskFake{})

	err := uc.Run(context.Background(), "doc-1", "run-1")
	if !domain.IsKind(err, domain.ErrCorruptInput) {
		t.Fatalf("expected corrupt input, got %v", err)
	}
	if extractor.calls != 1 {
		t.Fatalf("corrupt input must not be retried, got %d attempts", extractor.calls)
	}
	if runs.failStage != domain.StageExtraction {
		t.Fatalf("expected extraction stage failure, got %q", runs.failStage)
	}
	last := docs.statusCalls[len(docs.statusCalls)-1]
	if last != domain.StatusFailed {
		t.Fatalf("expected document failed, got %s", last)
	}
	if runs.published != nil {
		t.Fatalf("failed run must not publish results")
	}
}

func TestRunRetriesExtractionTimeout(t *testing.T) {
	docs := &analyzeDocsFake{doc: &domain.Document{ID: "doc-1"}}
	runs := &analyzeRunsFake{run: &domain.AnalysisRun{ID: "run-1", DocumentID: "doc-1", State: domain.RunRunning}}
	timeoutErr := domain.WrapError(domain.ErrExtractionTimeout, "extract text", context.DeadlineExceeded)
	extractor := &analyzeExtractorFake{
		text: sampleText(),
		errs: []error{timeoutErr, timeoutErr, nil},
	}
	uc := newAnalyzeUC(docs, runs, &analyzeQueueFake{}, extractor,
		&analyzeClassifierFake{cls: domain.Classification{Label: domain.LabelUnknown, Confidence: 0.1}},
		&analyzeFieldsFake{}, &analyzeRiskFake{})

	if err := uc.Run(context.Background(), "doc-1", "run-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if extractor.calls != 3 {
		t.Fatalf("expected 3 extraction attempts, got %d", extractor.calls)
	}
	if runs.attempts != 3 {
		t.Fatalf("expected 3 recorded attempts, got %d", runs.attempts)
	}
}

func TestRunExhaustsTimeoutRetries(t *testing.T) {
	docs := &analyzeDocsFake{doc: &domain.Document{ID: "doc-1"}}
	runs := &analyzeRunsFake{run: &domain.AnalysisRun{ID: "run-1", DocumentID: "doc-1", State: domain.RunRunning}}
	timeoutErr := domain.WrapError(domain.ErrExtractionTimeout, "extract text", context.DeadlineExceeded)
	extractor := &analyzeExtractorFake{errs: []error{timeoutErr, timeoutErr, timeoutErr}}
	uc := newAnalyzeUC(docs, runs, &analyzeQueueFake{}, extractor,
		&analyzeClassifierFake{}, &analyzeFieldsFake{}, &analyzeRiskFake{})

	err := uc.Run(context.Background(), "doc-1", "run-1")
	if !domain.IsKind(err, domain.ErrExtractionTimeout) {
		t.Fatalf("expected extraction timeout, got %v", err)
	}
	if extractor.calls != 3 {
		t.Fatalf("expected retries capped at 3, got %d", extractor.calls)
	}
}

func TestRunAnalysisComponentFailureDoesNotPublish(t *testing.T) {
	docs := &analyzeDocsFake{doc: &domain.Document{ID: "doc-1"}}
	runs := &analyzeRunsFake{run: &domain.AnalysisRun{ID: "run-1", DocumentID: "doc-1", State: domain.RunRunning}}
	uc := newAnalyzeUC(docs, runs, &analyzeQueueFake{},
		&analyzeExtractorFake{text: sampleText()},
		&analyzeClassifierFake{cls: domain.Classification{Label: domain.LabelContract, Confidence: 0.9}},
		&analyzeFieldsFake{err: errors.New("regex engine exploded")},
		&analyzeRiskFake{})

	err := uc.Run(context.Background(), "doc-1", "run-1")
	if !domain.IsKind(err, domain.ErrAnalysisFailed) {
		t.Fatalf("expected analysis component failure, got %v", err)
	}
	if runs.failStage != domain.StageFields {
		t.Fatalf("expected fields stage, got %q", runs.failStage)
	}
	if runs.published != nil {
		t.Fatalf("no partial results may be published")
	}
}

func TestRunRejectsOutOfBoundsSpans(t *testing.T) {
	docs := &analyzeDocsFake{doc: &domain.Document{ID: "doc-1"}}
	runs := &analyzeRunsFake{run: &domain.AnalysisRun{ID: "run-1", DocumentID: "doc-1", State: domain.RunRunning}}
	uc := newAnalyzeUC(docs, runs, &analyzeQueueFake{},
		&analyzeExtractorFake{text: sampleText()},
		&analyzeClassifierFake{cls: domain.Classification{Label: domain.LabelContract, Confidence: 0.9}},
		&analyzeFieldsFake{fields: []domain.ExtractedField{
			{Kind: domain.FieldDate, Value: "2026-01-01", Span: domain.Span{Start: 25, End: 99}},
		}},
		&analyzeRiskFake{})

	err := uc.Run(context.Background(), "doc-1", "run-1")
	if !domain.IsKind(err, domain.ErrAnalysisFailed) {
		t.Fatalf("expected analysis failure for out-of-range span, got %v", err)
	}
	if runs.published != nil {
		t.Fatalf("invalid provenance must not be published")
	}
}

func TestRunSkipsFinishedRun(t *testing.T) {
	docs := &analyzeDocsFake{doc: &domain.Document{ID: "doc-1"}}
	runs := &analyzeRunsFake{run: &domain.AnalysisRun{ID: "run-1", DocumentID: "doc-1", State: domain.RunSucceeded}}
	extractor := &analyzeExtractorFake{text: sampleText()}
	uc := newAnalyzeUC(docs, runs, &analyzeQueueFake{}, extractor,
		&analyzeClassifierFake{}, &analyzeFieldsFake{}, &analyzeRiskFake{})

	if err := uc.Run(context.Background(), "doc-1", "run-1"); err != nil {
		t.Fatalf("redelivered message for finished run should be a no-op, got %v", err)
	}
	if extractor.calls != 0 {
		t.Fatalf("finished run must not re-extract")
	}
}

func TestRequestAnalysisRejectsConcurrentRun(t *testing.T) {
	docs := &analyzeDocsFake{doc: &domain.Document{ID: "doc-1"}}
	runs := &analyzeRunsFake{beginErr: domain.ErrAlreadyInProgress}
	uc := newAnalyzeUC(docs, runs, &analyzeQueueFake{},
		&analyzeExtractorFake{text: sampleText()},
		&analyzeClassifierFake{}, &analyzeFieldsFake{}, &analyzeRiskFake{})

	_, err := uc.RequestAnalysis(context.Background(), "doc-1")
	if !domain.IsKind(err, domain.ErrAlreadyInProgress) {
		t.Fatalf("expected AlreadyInProgress, got %v", err)
	}
}

func TestRequestAnalysisReleasesRunOnPublishFailure(t *testing.T) {
	docs := &analyzeDocsFake{doc: &domain.Document{ID: "doc-1"}}
	runs := &analyzeRunsFake{}
	queue := &analyzeQueueFake{publishErr: errors.New("nats down")}
	uc := newAnalyzeUC(docs, runs, queue,
		&analyzeExtractorFake{text: sampleText()},
		&analyzeClassifierFake{}, &analyzeFieldsFake{}, &analyzeRiskFake{})

	_, err := uc.RequestAnalysis(context.Background(), "doc-1")
	if err == nil || !strings.Contains(err.Error(), "publish analysis request") {
		t.Fatalf("expected publish error, got %v", err)
	}
	if runs.failedWith == nil {
		t.Fatalf("claimed run must be released when enqueue fails")
	}
}

func TestRiskScorerReceivesExtractedFields(t *testing.T) {
	docs := &analyzeDocsFake{doc: &domain.Document{ID: "doc-1"}}
	runs := &analyzeRunsFake{run: &domain.AnalysisRun{ID: "run-1", DocumentID: "doc-1", State: domain.RunRunning}}
	risk := &analyzeRiskFake{}
	uc := newAnalyzeUC(docs, runs, &analyzeQueueFake{},
		&analyzeExtractorFake{text: sampleText()},
		&analyzeClassifierFake{cls: domain.Classification{Label: domain.LabelAgreement, Confidence: 0.5}},
		&analyzeFieldsFake{fields: []domain.ExtractedField{
			{Kind: domain.FieldAmount, Value: "$5,000", Span: domain.Span{Start: 2, End: 8}, Confidence: 0.7},
		}},
		risk)

	if err := uc.Run(context.Background(), "doc-1", "run-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !risk.gotField {
		t.Fatalf("risk scorer should see fields extracted in the same run")
	}
}
