package extractor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
	"github.com/kirillkom/legal-doc-analyzer/internal/core/ports"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeText = "text/plain"
)

// Extractor turns a stored document into positional extracted text. Format
// dispatch trusts magic bytes over the declared MIME type; a file that claims
// one format but carries another is corrupt, not unsupported.
type Extractor struct {
	storage ports.ObjectStorage
	ocr     ports.OCREngine
}

// NewExtractor builds an extractor. ocr may be nil; scanned PDF pages then
// fail extraction with ErrCorruptInput.
func NewExtractor(storage ports.ObjectStorage, ocr ports.OCREngine) *Extractor {
	return &Extractor{storage: storage, ocr: ocr}
}

func (e *Extractor) Extract(ctx context.Context, doc *domain.Document) (*domain.ExtractedText, error) {
	reader, err := e.storage.Open(ctx, doc.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrCorruptInput, "extract text",
			fmt.Errorf("document %s is empty", doc.ID))
	}

	switch doc.MimeType {
	case mimePDF:
		if !isPDF(raw) {
			return nil, domain.WrapError(domain.ErrCorruptInput, "extract text",
				fmt.Errorf("document %s declared pdf without %%PDF header", doc.ID))
		}
		return e.extractPDF(ctx, raw)
	case mimeDOCX:
		if !isZip(raw) {
			return nil, domain.WrapError(domain.ErrCorruptInput, "extract text",
				fmt.Errorf("document %s declared docx without zip container", doc.ID))
		}
		return extractDOCX(raw)
	case mimeText:
		return extractPlainText(raw)
	default:
		return nil, domain.WrapError(domain.ErrUnsupportedFormat, "extract text",
			fmt.Errorf("mime type %s", doc.MimeType))
	}
}

func isPDF(b []byte) bool {
	return len(b) >= 5 && string(b[:5]) == "%PDF-"
}

func isZip(b []byte) bool {
	return len(b) >= 4 && b[0] == 'P' && b[1] == 'K' && b[2] == 3 && b[3] == 4
}

// segmentBuilder accumulates page segments over one normalized text, keeping
// rune-offset spans contiguous.
type segmentBuilder struct {
	segments []domain.Segment
	offset   int
}

// add appends one page's text as a segment. Empty pages are skipped so spans
// stay dense.
func (b *segmentBuilder) add(page int, text string, confidence float64) {
	if text == "" {
		return
	}
	runes := utf8.RuneCountInString(text)
	b.segments = append(b.segments, domain.Segment{
		Page:       page,
		Span:       domain.Span{Start: b.offset, End: b.offset + runes},
		Text:       text,
		Confidence: confidence,
	})
	b.offset += runes
}

func (b *segmentBuilder) build() (*domain.ExtractedText, error) {
	if len(b.segments) == 0 {
		return nil, domain.WrapError(domain.ErrCorruptInput, "extract text",
			fmt.Errorf("no text recovered"))
	}
	return &domain.ExtractedText{
		Segments:  b.segments,
		CharCount: b.offset,
	}, nil
}

// normalizePage collapses runs of whitespace to single spaces and terminates
// the page with a newline, so concatenated segments never glue words across
// page boundaries.
func normalizePage(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.Join(fields, " ") + "\n"
}
