package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrResultsNotFound  = errors.New("analysis results not available")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")

	// Extraction taxonomy. Only ErrExtractionTimeout is retryable.
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrCorruptInput      = errors.New("corrupt input")
	ErrExtractionTimeout = errors.New("extraction timeout")

	// ErrAlreadyInProgress is a caller error: a run is active for the document.
	ErrAlreadyInProgress = errors.New("analysis already in progress")

	// ErrAnalysisFailed wraps a failing analysis sub-component's error.
	ErrAnalysisFailed = errors.New("analysis component failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ErrorKind reduces an error to its taxonomy name for run records.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrCorruptInput):
		return "corrupt_input"
	case errors.Is(err, ErrExtractionTimeout):
		return "extraction_timeout"
	case errors.Is(err, ErrAlreadyInProgress):
		return "already_in_progress"
	case errors.Is(err, ErrAnalysisFailed):
		return "analysis_component_failure"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrTemporary):
		return "temporary"
	default:
		return "internal"
	}
}
