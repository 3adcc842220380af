package domain

import "time"

type RunState string

const (
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
)

// RunStage names the pipeline stage a run is in, or failed at.
type RunStage string

const (
	StageExtraction     RunStage = "extraction"
	StageClassification RunStage = "classification"
	StageFields         RunStage = "fields"
	StageRisk           RunStage = "risk"
	StageNone           RunStage = ""
)

// AnalysisRun records one extract-then-analyze attempt over a document. The
// store guarantees at most one running run per document at a time.
type AnalysisRun struct {
	ID         string     `json:"id"`
	DocumentID string     `json:"document_id"`
	State      RunState   `json:"state"`
	Stage      RunStage   `json:"stage,omitempty"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Error      string     `json:"error,omitempty"`
	Attempts   int        `json:"attempts"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// AnalysisResult is the complete published output of one succeeded run.
// Partial results are never assembled into this type.
type AnalysisResult struct {
	Run            AnalysisRun      `json:"run"`
	Classification Classification   `json:"classification"`
	Fields         []ExtractedField `json:"fields"`
	Findings       []RiskFinding    `json:"findings"`
}
