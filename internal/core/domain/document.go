package domain

import "time"

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusExtracting DocumentStatus = "extracting"
	StatusExtracted  DocumentStatus = "extracted"
	StatusAnalyzing  DocumentStatus = "analyzing"
	StatusAnalyzed   DocumentStatus = "analyzed"
	StatusFailed     DocumentStatus = "failed"
)

// Terminal reports whether the lifecycle accepts no further pipeline
// transitions from this state.
func (s DocumentStatus) Terminal() bool {
	return s == StatusAnalyzed || s == StatusFailed
}

type Document struct {
	ID         string         `json:"id"`
	Filename   string         `json:"filename"`
	MimeType   string         `json:"mime_type"`
	SizeBytes  int64          `json:"size_bytes"`
	StorageKey string         `json:"storage_key"`
	Status     DocumentStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
