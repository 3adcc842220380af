package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
)

// ExcelRenderer emits one published result set as an xlsx workbook with
// Summary, Fields and Findings sheets.
type ExcelRenderer struct{}

func NewExcelRenderer() *ExcelRenderer {
	return &ExcelRenderer{}
}

func (r *ExcelRenderer) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (r *ExcelRenderer) Render(doc *domain.Document, result *domain.AnalysisResult) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const summary = "Summary"
	f.SetSheetName("Sheet1", summary)

	summaryRows := [][]any{
		{"Document", doc.Filename},
		{"Document ID", doc.ID},
		{"MIME type", doc.MimeType},
		{"Run ID", result.Run.ID},
		{"Analyzed at", finishedAt(result)},
		{"Label", string(result.Classification.Label)},
		{"Label confidence", result.Classification.Confidence},
		{"Fields", len(result.Fields)},
		{"Findings", len(result.Findings)},
	}
	if err := writeRows(f, summary, summaryRows); err != nil {
		return nil, err
	}

	const fieldsSheet = "Fields"
	if _, err := f.NewSheet(fieldsSheet); err != nil {
		return nil, fmt.Errorf("create sheet %s: %w", fieldsSheet, err)
	}
	fieldRows := [][]any{{"Kind", "Value", "Start", "End", "Confidence"}}
	for _, field := range result.Fields {
		fieldRows = append(fieldRows, []any{
			string(field.Kind), field.Value, field.Span.Start, field.Span.End, field.Confidence,
		})
	}
	if err := writeRows(f, fieldsSheet, fieldRows); err != nil {
		return nil, err
	}

	const findingsSheet = "Findings"
	if _, err := f.NewSheet(findingsSheet); err != nil {
		return nil, fmt.Errorf("create sheet %s: %w", findingsSheet, err)
	}
	findingRows := [][]any{{"Severity", "Rule", "Start", "End", "Explanation"}}
	for _, finding := range result.Findings {
		findingRows = append(findingRows, []any{
			string(finding.Severity), finding.RuleID, finding.Span.Start, finding.Span.End, finding.Explanation,
		})
	}
	if err := writeRows(f, findingsSheet, findingRows); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("sheet %s row %d: %w", sheet, i+1, err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func finishedAt(result *domain.AnalysisResult) string {
	if result.Run.FinishedAt == nil {
		return ""
	}
	return result.Run.FinishedAt.Format("2006-01-02 15:04:05")
}
