package export

import (
	"encoding/json"
	"fmt"

	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
)

// JSONRenderer emits one published result set as an indented JSON document.
type JSONRenderer struct{}

func NewJSONRenderer() *JSONRenderer {
	return &JSONRenderer{}
}

func (r *JSONRenderer) ContentType() string {
	return "application/json"
}

type jsonExport struct {
	Document       documentExport          `json:"document"`
	Run            runExport               `json:"run"`
	Classification domain.Classification   `json:"classification"`
	Fields         []domain.ExtractedField `json:"fields"`
	Findings       []domain.RiskFinding    `json:"findings"`
}

type documentExport struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Status   string `json:"status"`
}

type runExport struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

func (r *JSONRenderer) Render(doc *domain.Document, result *domain.AnalysisResult) ([]byte, error) {
	payload := jsonExport{
		Document: documentExport{
			ID:       doc.ID,
			Filename: doc.Filename,
			MimeType: doc.MimeType,
			Status:   string(doc.Status),
		},
		Run: runExport{
			ID:        result.Run.ID,
			State:     string(result.Run.State),
			StartedAt: result.Run.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		},
		Classification: result.Classification,
		Fields:         result.Fields,
		Findings:       result.Findings,
	}
	if result.Run.FinishedAt != nil {
		payload.Run.FinishedAt = result.Run.FinishedAt.Format("2006-01-02T15:04:05Z07:00")
	}

	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}
	return out, nil
}
