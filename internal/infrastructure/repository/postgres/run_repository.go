package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
)

const pgUniqueViolation = "23505"

type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// BeginRun claims the document's single in-flight slot. The partial unique
// index on running runs makes the claim atomic across api/worker replicas;
// a losing writer gets domain.ErrAlreadyInProgress.
func (r *RunRepository) BeginRun(ctx context.Context, run *domain.AnalysisRun) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO analysis_runs (id, document_id, state, stage, attempts, started_at)
VALUES ($1, $2, $3, '', 0, $4)
`, run.ID, run.DocumentID, string(domain.RunRunning), run.StartedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.WrapError(domain.ErrAlreadyInProgress, "begin run",
				fmt.Errorf("document %s", run.DocumentID))
		}
		return fmt.Errorf("insert run: %w", err)
	}
	run.State = domain.RunRunning
	return nil
}

func (r *RunRepository) GetRun(ctx context.Context, runID string) (*domain.AnalysisRun, error) {
	return r.scanRun(r.db.QueryRowContext(ctx, `
SELECT id, document_id, state, stage, error_kind, error_message, attempts, started_at, finished_at
FROM analysis_runs
WHERE id = $1
`, runID))
}

func (r *RunRepository) RecordAttempt(ctx context.Context, runID string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE analysis_runs SET attempts = attempts + 1 WHERE id = $1
`, runID)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (r *RunRepository) SetStage(ctx context.Context, runID string, stage domain.RunStage) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE analysis_runs SET stage = $2 WHERE id = $1 AND state = $3
`, runID, string(stage), string(domain.RunRunning))
	if err != nil {
		return fmt.Errorf("set run stage: %w", err)
	}
	return nil
}

func (r *RunRepository) FailRun(ctx context.Context, runID string, stage domain.RunStage, runErr error) error {
	message := ""
	if runErr != nil {
		message = runErr.Error()
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE analysis_runs
SET state = $2, stage = $3, error_kind = $4, error_message = $5, finished_at = $6
WHERE id = $1 AND state = $7
`, runID, string(domain.RunFailed), string(stage), domain.ErrorKind(runErr), message,
		time.Now().UTC(), string(domain.RunRunning))
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("fail run affected rows: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrResultsNotFound, "fail run",
			fmt.Errorf("run %s is not running", runID))
	}
	return nil
}

// PublishResults commits the run's success transition together with every
// result row in one transaction. Readers either see the full set or nothing.
func (r *RunRepository) PublishResults(
	ctx context.Context,
	runID string,
	text *domain.ExtractedText,
	cls domain.Classification,
	fields []domain.ExtractedField,
	findings []domain.RiskFinding,
) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin publish tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `
UPDATE analysis_runs
SET state = $2, stage = '', finished_at = $3
WHERE id = $1 AND state = $4
`, runID, string(domain.RunSucceeded), time.Now().UTC(), string(domain.RunRunning))
	if err != nil {
		return fmt.Errorf("mark run succeeded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark run succeeded affected rows: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrResultsNotFound, "publish results",
			fmt.Errorf("run %s is not running", runID))
	}

	segmentsJSON, err := json.Marshal(text.Segments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO extracted_texts (id, document_id, run_id, segments, char_count, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, text.ID, text.DocumentID, runID, segmentsJSON, text.CharCount, time.Now().UTC()); err != nil {
		return fmt.Errorf("insert extracted text: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO classifications (run_id, document_id, label, confidence)
VALUES ($1, $2, $3, $4)
`, runID, cls.DocumentID, string(cls.Label), cls.Confidence); err != nil {
		return fmt.Errorf("insert classification: %w", err)
	}

	for _, f := range fields {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO extracted_fields (id, run_id, document_id, kind, value, span_start, span_end, confidence)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, f.ID, runID, f.DocumentID, string(f.Kind), f.Value, f.Span.Start, f.Span.End, f.Confidence); err != nil {
			return fmt.Errorf("insert extracted field: %w", err)
		}
	}

	for _, f := range findings {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO risk_findings (id, run_id, document_id, rule_id, severity, span_start, span_end, explanation)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, f.ID, runID, f.DocumentID, f.RuleID, string(f.Severity), f.Span.Start, f.Span.End, f.Explanation); err != nil {
			return fmt.Errorf("insert risk finding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit publish tx: %w", err)
	}
	return nil
}

func (r *RunRepository) ActiveRun(ctx context.Context, documentID string) (*domain.AnalysisRun, error) {
	return r.scanRun(r.db.QueryRowContext(ctx, `
SELECT id, document_id, state, stage, error_kind, error_message, attempts, started_at, finished_at
FROM analysis_runs
WHERE document_id = $1 AND state = $2
`, documentID, string(domain.RunRunning)))
}

func (r *RunRepository) LatestRun(ctx context.Context, documentID string) (*domain.AnalysisRun, error) {
	return r.scanRun(r.db.QueryRowContext(ctx, `
SELECT id, document_id, state, stage, error_kind, error_message, attempts, started_at, finished_at
FROM analysis_runs
WHERE document_id = $1
ORDER BY started_at DESC
LIMIT 1
`, documentID))
}

func (r *RunRepository) LatestSucceededRun(ctx context.Context, documentID string) (*domain.AnalysisRun, error) {
	return r.scanRun(r.db.QueryRowContext(ctx, `
SELECT id, document_id, state, stage, error_kind, error_message, attempts, started_at, finished_at
FROM analysis_runs
WHERE document_id = $1 AND state = $2
ORDER BY finished_at DESC
LIMIT 1
`, documentID, string(domain.RunSucceeded)))
}

func (r *RunRepository) ResultsByRun(ctx context.Context, runID string) (*domain.AnalysisResult, error) {
	run, err := r.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State != domain.RunSucceeded {
		return nil, domain.WrapError(domain.ErrResultsNotFound, "results by run",
			fmt.Errorf("run %s state %s", runID, run.State))
	}

	result := &domain.AnalysisResult{Run: *run}

	row := r.db.QueryRowContext(ctx, `
SELECT document_id, label, confidence FROM classifications WHERE run_id = $1
`, runID)
	var label string
	if err := row.Scan(&result.Classification.DocumentID, &label, &result.Classification.Confidence); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrResultsNotFound, "results by run",
				fmt.Errorf("run %s has no classification", runID))
		}
		return nil, fmt.Errorf("scan classification: %w", err)
	}
	result.Classification.Label = domain.Label(label)
	result.Classification.RunID = runID

	fields, err := r.fieldsByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	result.Fields = fields

	findings, err := r.findingsByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	result.Findings = findings
	return result, nil
}

func (r *RunRepository) fieldsByRun(ctx context.Context, runID string) ([]domain.ExtractedField, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, kind, value, span_start, span_end, confidence
FROM extracted_fields
WHERE run_id = $1
ORDER BY span_start, id
`, runID)
	if err != nil {
		return nil, fmt.Errorf("query fields: %w", err)
	}
	defer rows.Close()

	fields := []domain.ExtractedField{}
	for rows.Next() {
		var f domain.ExtractedField
		var kind string
		if err := rows.Scan(&f.ID, &f.DocumentID, &kind, &f.Value, &f.Span.Start, &f.Span.End, &f.Confidence); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		f.Kind = domain.FieldKind(kind)
		f.RunID = runID
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fields: %w", err)
	}
	return fields, nil
}

func (r *RunRepository) findingsByRun(ctx context.Context, runID string) ([]domain.RiskFinding, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, rule_id, severity, span_start, span_end, explanation
FROM risk_findings
WHERE run_id = $1
`, runID)
	if err != nil {
		return nil, fmt.Errorf("query findings: %w", err)
	}
	defer rows.Close()

	findings := []domain.RiskFinding{}
	for rows.Next() {
		var f domain.RiskFinding
		var severity string
		if err := rows.Scan(&f.ID, &f.DocumentID, &f.RuleID, &severity, &f.Span.Start, &f.Span.End, &f.Explanation); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		f.Severity = domain.Severity(severity)
		f.RunID = runID
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate findings: %w", err)
	}
	domain.SortFindings(findings)
	return findings, nil
}

func (r *RunRepository) scanRun(row *sql.Row) (*domain.AnalysisRun, error) {
	var run domain.AnalysisRun
	var state, stage string
	var finished sql.NullTime

	err := row.Scan(
		&run.ID, &run.DocumentID, &state, &stage, &run.ErrorKind, &run.Error,
		&run.Attempts, &run.StartedAt, &finished,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrResultsNotFound, "get run", err)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.State = domain.RunState(state)
	run.Stage = domain.RunStage(stage)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
