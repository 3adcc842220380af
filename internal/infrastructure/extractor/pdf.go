package extractor

import (
	"bytes"
	"context"
	"fmt"

	pdf "github.com/ledongthuc/pdf"

	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
)

// extractPDF walks the document page by page. Pages with a text layer become
// full-confidence segments; pages without one go through OCR. The pdf parser
// panics on some malformed files, so the whole walk runs under recover.
func (e *Extractor) extractPDF(ctx context.Context, raw []byte) (text *domain.ExtractedText, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = nil
			err = domain.WrapError(domain.ErrCorruptInput, "extract pdf",
				fmt.Errorf("parser panic: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, domain.WrapError(domain.ErrCorruptInput, "extract pdf", err)
	}

	builder := &segmentBuilder{}
	for page := 1; page <= reader.NumPage(); page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p := reader.Page(page)
		if p.V.IsNull() {
			continue
		}

		pageText, err := p.GetPlainText(nil)
		if err != nil {
			return nil, domain.WrapError(domain.ErrCorruptInput, "extract pdf",
				fmt.Errorf("page %d: %w", page, err))
		}

		normalized := normalizePage(pageText)
		if normalized != "" {
			builder.add(page, normalized, 1.0)
			continue
		}

		// No text layer: a scanned page.
		ocrText, confidence, err := e.recognizePage(ctx, raw, page)
		if err != nil {
			return nil, err
		}
		builder.add(page, normalizePage(ocrText), confidence)
	}

	return builder.build()
}

func (e *Extractor) recognizePage(ctx context.Context, raw []byte, page int) (string, float64, error) {
	if e.ocr == nil {
		return "", 0, domain.WrapError(domain.ErrCorruptInput, "extract pdf",
			fmt.Errorf("page %d has no text layer and no ocr engine is configured", page))
	}
	text, confidence, err := e.ocr.Recognize(ctx, raw, page)
	if err != nil {
		return "", 0, fmt.Errorf("ocr page %d: %w", page, err)
	}
	return text, confidence, nil
}
