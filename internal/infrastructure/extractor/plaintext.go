package extractor

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
)

var blankLines = regexp.MustCompile(`\n[ \t]*\n+`)

// extractPlainText treats form feeds as page separators. Files without form
// feeds use blank lines as page breaks, so a multi-section text document
// still yields positional segments.
func extractPlainText(raw []byte) (*domain.ExtractedText, error) {
	if !utf8.Valid(raw) {
		return nil, domain.WrapError(domain.ErrCorruptInput, "extract plain text",
			fmt.Errorf("not valid utf-8"))
	}

	content := strings.ReplaceAll(string(raw), "\r\n", "\n")

	var pages []string
	if strings.Contains(content, "\f") {
		pages = strings.Split(content, "\f")
	} else {
		pages = blankLines.Split(content, -1)
	}

	builder := &segmentBuilder{}
	page := 0
	for _, p := range pages {
		normalized := normalizePage(p)
		if normalized == "" {
			continue
		}
		page++
		builder.add(page, normalized, 1.0)
	}
	return builder.build()
}
