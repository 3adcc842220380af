package classify

import (
	"context"
	"regexp"
	"strings"

	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
)

// Classifier assigns one label by scoring signal phrases over the whole
// text. It never fails on well-formed input; text with no signals is
// labeled unknown with low confidence.
type Classifier struct {
	signals map[domain.Label][]*regexp.Regexp
}

// Signal phrases per label. Matching is case-insensitive over the
// normalized text.
var labelPhrases = map[domain.Label][]string{
	domain.LabelContract: {
		`this contract`,
		`breach of contract`,
		`now,? therefore`,
		`in witness whereof`,
		`in consideration of`,
		`terms and conditions`,
		`party of the first part`,
	},
	domain.LabelPolicy: {
		`this policy`,
		`privacy policy`,
		`insurance policy`,
		`policyholder`,
		`policy period`,
		`coverage`,
	},
	domain.LabelAgreement: {
		`this agreement`,
		`agreement is entered into`,
		`memorandum of understanding`,
		`the undersigned parties`,
		`letter agreement`,
	},
	domain.LabelOther: {
		`invoice`,
		`purchase order`,
		`meeting minutes`,
		`notice of`,
	},
}

const (
	unknownConfidence = 0.2
	baseConfidence    = 0.3
	perHitConfidence  = 0.15
	maxConfidence     = 0.95
)

func New() *Classifier {
	signals := make(map[domain.Label][]*regexp.Regexp, len(labelPhrases))
	for label, phrases := range labelPhrases {
		for _, phrase := range phrases {
			signals[label] = append(signals[label], regexp.MustCompile(`(?i)\b`+phrase+`\b`))
		}
	}
	return &Classifier{signals: signals}
}

func (c *Classifier) Classify(_ context.Context, text *domain.ExtractedText) (domain.Classification, error) {
	content := strings.ToLower(text.Text())

	best := domain.Classification{
		Label:      domain.LabelUnknown,
		Confidence: unknownConfidence,
	}
	for _, label := range []domain.Label{
		domain.LabelContract, domain.LabelPolicy, domain.LabelAgreement, domain.LabelOther,
	} {
		hits := 0
		for _, signal := range c.signals[label] {
			hits += len(signal.FindAllStringIndex(content, -1))
		}
		if hits == 0 {
			continue
		}
		confidence := baseConfidence + perHitConfidence*float64(hits)
		if confidence > maxConfidence {
			confidence = maxConfidence
		}
		if better(confidence, label, best) {
			best.Label = label
			best.Confidence = confidence
		}
	}

	best.DocumentID = text.DocumentID
	best.RunID = text.RunID
	return best, nil
}

// better prefers higher confidence; equal confidence resolves to the lower
// label ordinal, so results are deterministic.
func better(confidence float64, label domain.Label, current domain.Classification) bool {
	if confidence != current.Confidence {
		return confidence > current.Confidence
	}
	return label.Ordinal() < current.Label.Ordinal()
}
