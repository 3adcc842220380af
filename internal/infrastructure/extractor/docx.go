package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
)

// extractDOCX reads word/document.xml out of the OPC container and gathers
// run text (<w:t>), breaking pages at explicit page-break markers. DOCX has
// no authoritative pagination without layout, so explicit breaks are the
// only page boundaries honored.
func extractDOCX(raw []byte) (*domain.ExtractedText, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, domain.WrapError(domain.ErrCorruptInput, "extract docx", err)
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			if err != nil {
				return nil, domain.WrapError(domain.ErrCorruptInput, "extract docx", err)
			}
			docXML, err = io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				return nil, domain.WrapError(domain.ErrCorruptInput, "extract docx", err)
			}
			break
		}
	}
	if docXML == nil {
		return nil, domain.WrapError(domain.ErrCorruptInput, "extract docx",
			fmt.Errorf("container has no word/document.xml"))
	}

	pages, err := docxPages(docXML)
	if err != nil {
		return nil, domain.WrapError(domain.ErrCorruptInput, "extract docx", err)
	}

	builder := &segmentBuilder{}
	for i, page := range pages {
		builder.add(i+1, normalizePage(page), 1.0)
	}
	return builder.build()
}

// docxPages decodes the document XML into per-page text. Page breaks are
// <w:br w:type="page"/> and <w:lastRenderedPageBreak/>; paragraphs become
// newlines.
func docxPages(docXML []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(docXML))

	var pages []string
	var current strings.Builder
	inText := false

	flush := func() {
		pages = append(pages, current.String())
		current.Reset()
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode document xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "lastRenderedPageBreak":
				flush()
			case "br":
				for _, attr := range t.Attr {
					if attr.Name.Local == "type" && attr.Value == "page" {
						flush()
					}
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				current.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}

	pages = append(pages, current.String())
	return pages, nil
}
