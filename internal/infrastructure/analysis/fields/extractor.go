package fields

import (
	"context"
	"regexp"
	"sort"

	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
)

// Extractor finds structured fields with provenance spans by running one
// pattern set per field kind over the normalized text. Kinds are independent
// and the result is their union; zero matches of a kind is not an error.
type Extractor struct {
	patterns map[domain.FieldKind][]pattern
}

type pattern struct {
	re         *regexp.Regexp
	group      int
	confidence float64
}

const monthNames = `January|February|March|April|May|June|July|August|September|October|November|December`

func New() *Extractor {
	return &Extractor{patterns: map[domain.FieldKind][]pattern{
		domain.FieldParty: {
			// Registered entity names: "Acme Corp", "Beta Holdings LLC".
			{re: regexp.MustCompile(`\b([A-Z][A-Za-z0-9&'.\- ]*?(?:Inc|LLC|Ltd|Corp|Corporation|Company|GmbH|S\.A\.|PLC)\.?)(?:[,;)\s]|$)`), group: 1, confidence: 0.8},
			// Defined-term introductions: `X ("the Supplier")`.
			{re: regexp.MustCompile(`\(["“](?:the )?([A-Z][A-Za-z ]+)["”]\)`), group: 1, confidence: 0.7},
		},
		domain.FieldDate: {
			{re: regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`), confidence: 0.95},
			{re: regexp.MustCompile(`\b(?:` + monthNames + `) \d{1,2}, \d{4}\b`), confidence: 0.9},
			{re: regexp.MustCompile(`\b\d{1,2}(?:st|nd|rd|th)? (?:day of )?(?:` + monthNames + `),? \d{4}\b`), confidence: 0.9},
		},
		domain.FieldObligation: {
			// A sentence whose verb phrase is "shall", "must" or "agrees to".
			{re: regexp.MustCompile(`[^.\n]*\b(?:shall|must|agrees? to|is obligated to)\b[^.\n]*\.?`), confidence: 0.6},
		},
		domain.FieldClauseReference: {
			{re: regexp.MustCompile(`\b(?:Section|Clause|Article|Paragraph|Exhibit|Schedule|Appendix) \d+(?:\.\d+)*\b`), confidence: 0.9},
		},
		domain.FieldAmount: {
			{re: regexp.MustCompile(`[$€£] ?\d[\d,]*(?:\.\d{1,2})?`), confidence: 0.9},
			{re: regexp.MustCompile(`\b\d[\d,]*(?:\.\d{1,2})? (?:USD|EUR|GBP|RUB|dollars|euros|pounds)\b`), confidence: 0.85},
		},
	}}
}

func (e *Extractor) ExtractFields(ctx context.Context, text *domain.ExtractedText) ([]domain.ExtractedField, error) {
	content := text.Text()
	offsets := newRuneOffsets(content)

	fields := []domain.ExtractedField{}
	seen := map[domain.Span]map[domain.FieldKind]bool{}

	for _, kind := range []domain.FieldKind{
		domain.FieldParty, domain.FieldDate, domain.FieldObligation,
		domain.FieldClauseReference, domain.FieldAmount,
	} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, p := range e.patterns[kind] {
			for _, match := range p.re.FindAllStringSubmatchIndex(content, -1) {
				start, end := match[2*p.group], match[2*p.group+1]
				if start < 0 || end <= start {
					continue
				}
				span := domain.Span{
					Start: offsets.runeAt(start),
					End:   offsets.runeAt(end),
				}
				if seen[span][kind] {
					continue
				}
				if seen[span] == nil {
					seen[span] = map[domain.FieldKind]bool{}
				}
				seen[span][kind] = true

				fields = append(fields, domain.ExtractedField{
					DocumentID: text.DocumentID,
					RunID:      text.RunID,
					Kind:       kind,
					Value:      trimBoundary(content[start:end]),
					Span:       span,
					Confidence: p.confidence,
				})
			}
		}
	}

	sort.SliceStable(fields, func(i, j int) bool {
		if fields[i].Span.Start != fields[j].Span.Start {
			return fields[i].Span.Start < fields[j].Span.Start
		}
		return fields[i].Kind < fields[j].Kind
	})
	return fields, nil
}

func trimBoundary(value string) string {
	for len(value) > 0 {
		last := value[len(value)-1]
		if last == ' ' || last == ',' || last == ';' || last == ')' || last == '\n' {
			value = value[:len(value)-1]
			continue
		}
		break
	}
	return value
}

// runeOffsets converts byte offsets from the regexp engine into the rune
// offsets spans are defined over.
type runeOffsets struct {
	byteToRune map[int]int
	total      int
}

func newRuneOffsets(content string) *runeOffsets {
	o := &runeOffsets{byteToRune: make(map[int]int, len(content)+1)}
	count := 0
	for i := range content {
		o.byteToRune[i] = count
		count++
	}
	o.byteToRune[len(content)] = count
	o.total = count
	return o
}

func (o *runeOffsets) runeAt(byteOffset int) int {
	if r, ok := o.byteToRune[byteOffset]; ok {
		return r
	}
	return o.total
}
