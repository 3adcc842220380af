package risk

import "github.com/kirillkom/legal-doc-analyzer/internal/core/domain"

// defaultRules covers the common contract red flags. A YAML rule file
// replaces the whole set, not individual entries.
func defaultRules() []Rule {
	return []Rule{
		{
			ID:          "unlimited-liability",
			Severity:    domain.SeverityCritical,
			Pattern:     `unlimited liability|liability[^.]{0,40}(?:unlimited|not (?:be )?limited)|without (?:any )?limit(?:ation)? of liability`,
			Explanation: "liability is not capped",
		},
		{
			ID:          "indemnification",
			Severity:    domain.SeverityHigh,
			Pattern:     `indemnif(?:y|ies|ication)[^.]{0,60}(?:all|any)[^.]{0,40}(?:claims|losses|damages)`,
			Explanation: "broad indemnification obligation",
		},
		{
			ID:          "unilateral-termination",
			Severity:    domain.SeverityHigh,
			Pattern:     `terminat(?:e|ion)[^.]{0,60}(?:at any time|sole discretion|without (?:cause|notice))`,
			Explanation: "counterparty can terminate unilaterally",
		},
		{
			ID:          "auto-renewal",
			Severity:    domain.SeverityMedium,
			Pattern:     `automatic(?:ally)? renew|auto-?renew`,
			Explanation: "term renews automatically",
		},
		{
			ID:          "liquidated-damages",
			Severity:    domain.SeverityMedium,
			Pattern:     `liquidated damages|penalty of`,
			Explanation: "fixed penalty on breach",
		},
		{
			ID:          "assignment-without-consent",
			Severity:    domain.SeverityMedium,
			Pattern:     `assign[^.]{0,50}without[^.]{0,30}consent`,
			Explanation: "rights can be assigned without consent",
		},
		{
			ID:               "no-party-identified",
			Severity:         domain.SeverityLow,
			WhenMissingField: string(domain.FieldParty),
			Explanation:      "no contracting party could be identified",
		},
	}
}
