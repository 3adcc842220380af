package risk

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
)

// Rule is one independent risk check. Pattern rules produce a finding per
// match; when-missing-field rules produce one finding over the whole text
// when no field of that kind was extracted.
type Rule struct {
	ID               string          `yaml:"id"`
	Severity         domain.Severity `yaml:"severity"`
	Pattern          string          `yaml:"pattern"`
	Explanation      string          `yaml:"explanation"`
	WhenMissingField string          `yaml:"when_missing_field"`

	re *regexp.Regexp
}

// Scorer evaluates the rule set over extracted text and fields. Rules never
// see each other's output; findings come back ordered severity-descending,
// then by span start.
type Scorer struct {
	rules []Rule
}

func New(rules []Rule) *Scorer {
	return &Scorer{rules: rules}
}

// NewDefault builds a scorer over the built-in rule set.
func NewDefault() (*Scorer, error) {
	rules, err := compile(defaultRules())
	if err != nil {
		return nil, err
	}
	return New(rules), nil
}

// Load reads a YAML rule file. An empty path loads the built-in defaults.
func Load(path string) (*Scorer, error) {
	if path == "" {
		return NewDefault()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Scorer, error) {
	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("rules yaml defines no rules")
	}
	rules, err := compile(doc.Rules)
	if err != nil {
		return nil, err
	}
	return New(rules), nil
}

func compile(rules []Rule) ([]Rule, error) {
	for i := range rules {
		r := &rules[i]
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d has no id", i)
		}
		if r.Severity.Rank() >= len(severityNames) {
			return nil, fmt.Errorf("rule %s: unknown severity %q", r.ID, r.Severity)
		}
		if r.Pattern == "" && r.WhenMissingField == "" {
			return nil, fmt.Errorf("rule %s has neither pattern nor when_missing_field", r.ID)
		}
		if r.Pattern != "" {
			re, err := regexp.Compile(`(?i)` + r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", r.ID, err)
			}
			r.re = re
		}
	}
	return rules, nil
}

var severityNames = []domain.Severity{
	domain.SeverityCritical, domain.SeverityHigh, domain.SeverityMedium, domain.SeverityLow,
}

func (s *Scorer) Score(ctx context.Context, text *domain.ExtractedText, fields []domain.ExtractedField) ([]domain.RiskFinding, error) {
	content := text.Text()
	offsets := newRuneOffsets(content)

	present := map[string]bool{}
	for _, f := range fields {
		present[string(f.Kind)] = true
	}

	findings := []domain.RiskFinding{}
	for _, rule := range s.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if rule.WhenMissingField != "" {
			if !present[rule.WhenMissingField] {
				findings = append(findings, domain.RiskFinding{
					DocumentID:  text.DocumentID,
					RunID:       text.RunID,
					RuleID:      rule.ID,
					Severity:    rule.Severity,
					Span:        domain.Span{Start: 0, End: text.CharCount},
					Explanation: rule.Explanation,
				})
			}
			continue
		}

		for _, match := range rule.re.FindAllStringIndex(content, -1) {
			findings = append(findings, domain.RiskFinding{
				DocumentID:  text.DocumentID,
				RunID:       text.RunID,
				RuleID:      rule.ID,
				Severity:    rule.Severity,
				Span:        domain.Span{Start: offsets.runeAt(match[0]), End: offsets.runeAt(match[1])},
				Explanation: rule.Explanation,
			})
		}
	}

	domain.SortFindings(findings)
	return findings, nil
}

// runeOffsets converts the regexp engine's byte offsets into rune offsets.
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
