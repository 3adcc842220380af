package domain

import (
	"sort"
	"time"
)

// Span is a half-open rune-offset range [Start, End) into the normalized text
// of an ExtractedText. It establishes provenance for derived facts.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (s Span) Valid() bool {
	return s.Start >= 0 && s.End >= s.Start
}

// Within reports whether the span lies inside a text of charCount runes.
func (s Span) Within(charCount int) bool {
	return s.Valid() && s.End <= charCount
}

// Segment is one contiguous piece of extracted text. Page numbers start at 1.
// Confidence is 1 for born-digital text and lower for OCR output.
type Segment struct {
	Page       int     `json:"page"`
	Span       Span    `json:"span"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ExtractedText is the immutable extraction result for one run: ordered
// segments over a single normalized text.
type ExtractedText struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	RunID      string    `json:"run_id"`
	Segments   []Segment `json:"segments"`
	CharCount  int       `json:"char_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Text reassembles the normalized text the spans index into.
func (t *ExtractedText) Text() string {
	var out []byte
	for _, seg := range t.Segments {
		out = append(out, seg.Text...)
	}
	return string(out)
}

type Label string

const (
	LabelContract  Label = "contract"
	LabelPolicy    Label = "policy"
	LabelAgreement Label = "agreement"
	LabelUnknown   Label = "unknown"
	LabelOther     Label = "other"
)

// labelOrdinals fixes the deterministic tie-break order between candidate
// labels with equal confidence.
var labelOrdinals = map[Label]int{
	LabelContract:  0,
	LabelPolicy:    1,
	LabelAgreement: 2,
	LabelUnknown:   3,
	LabelOther:     4,
}

func (l Label) Ordinal() int {
	ord, ok := labelOrdinals[l]
	if !ok {
		return len(labelOrdinals)
	}
	return ord
}

type Classification struct {
	DocumentID string  `json:"document_id"`
	RunID      string  `json:"run_id"`
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
}

type FieldKind string

const (
	FieldParty           FieldKind = "party"
	FieldDate            FieldKind = "date"
	FieldObligation      FieldKind = "obligation"
	FieldClauseReference FieldKind = "clause-reference"
	FieldAmount          FieldKind = "amount"
)

type ExtractedField struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	RunID      string    `json:"run_id"`
	Kind       FieldKind `json:"kind"`
	Value      string    `json:"value"`
	Span       Span      `json:"span"`
	Confidence float64   `json:"confidence"`
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

var severityRanks = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
}

func (s Severity) Rank() int {
	rank, ok := severityRanks[s]
	if !ok {
		return len(severityRanks)
	}
	return rank
}

type RiskFinding struct {
	ID          string   `json:"id"`
	DocumentID  string   `json:"document_id"`
	RunID       string   `json:"run_id"`
	RuleID      string   `json:"rule_id"`
	Severity    Severity `json:"severity"`
	Span        Span     `json:"span"`
	Explanation string   `json:"explanation"`
}

// SortFindings orders findings for presentation: severity descending, then
// document order (span start), then rule id for full determinism.
func SortFindings(findings []RiskFinding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Severity.Rank() != findings[j].Severity.Rank() {
			return findings[i].Severity.Rank() < findings[j].Severity.Rank()
		}
		if findings[i].Span.Start != findings[j].Span.Start {
			return findings[i].Span.Start < findings[j].Span.Start
		}
		return findings[i].RuleID < findings[j].RuleID
	})
}
