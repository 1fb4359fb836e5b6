package epistemic

import (
	"regexp"
	"strings"
)

// Severity of a lint issue.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// IssueCategory separates overconfidence from muddiness.
type IssueCategory string

const (
	CategoryCertainty IssueCategory = "certainty"
	CategoryClarity   IssueCategory = "clarity"
)

// Issue is one linted problem in the text.
type Issue struct {
	Severity   Severity
	Category   IssueCategory
	Message    string
	Span       string
	Position   int
	Suggestion string
}

// RepairStrategy names how a flawed response should be fixed.
type RepairStrategy string

const (
	StrategyAnchor  RepairStrategy = "anchor"
	StrategyRewrite RepairStrategy = "rewrite"
	StrategyClarify RepairStrategy = "clarify"
	StrategyNone    RepairStrategy = ""
)

// LintResult scores a response's certainty posture and clarity.
type LintResult struct {
	// CertaintyScore rises with overconfidence, 0..1.
	CertaintyScore float64
	// ClarityScore falls with hedging pile-ups, 0..1.
	ClarityScore float64

	Issues      []Issue
	NeedsRepair bool
	Strategy    RepairStrategy
}

var sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]?`)

// splitSentences is deliberately crude; the linter needs sentence-sized
// windows, not linguistic precision.
func splitSentences(text string) []string {
	raw := sentencePattern.FindAllString(text, -1)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Lint checks the text against the classification. Risky phrases only
// count outside grounded-direct and deterministic text; a sentence
// matching an allowed-absolutes pattern is exempt.
func Lint(rules *Rules, classification *Classification, text string) *LintResult {
	result := &LintResult{ClarityScore: 1.0}

	certaintyApplies := classification.Type == AnswerUngrounded ||
		classification.Type == AnswerGroundedContested

	offset := 0
	for _, sentence := range splitSentences(text) {
		position := strings.Index(text[offset:], sentence) + offset
		offset = position + len(sentence)
		lower := strings.ToLower(sentence)

		if certaintyApplies && !allowedAbsolute(rules, sentence) {
			for _, phrase := range rules.RiskyPhrases {
				if strings.Contains(lower, phrase) {
					result.Issues = append(result.Issues, Issue{
						Severity:   SeverityHigh,
						Category:   CategoryCertainty,
						Message:    "overconfident claim without grounding: " + phrase,
						Span:       sentence,
						Position:   position,
						Suggestion: rules.Softening[phrase],
					})
				}
			}
			if classification.Type == AnswerUngrounded {
				for _, phrase := range rules.MediumPhrases {
					if containsWord(lower, phrase) {
						result.Issues = append(result.Issues, Issue{
							Severity: SeverityMedium,
							Category: CategoryCertainty,
							Message:  "assertive phrasing without grounding: " + phrase,
							Span:     sentence,
							Position: position,
						})
					}
				}
			}
		}

		if hedges := countHedges(rules, lower); hedges > rules.MaxHedgesPerSentence {
			result.Issues = append(result.Issues, Issue{
				Severity: SeverityLow,
				Category: CategoryClarity,
				Message:  "too many hedges in one sentence",
				Span:     sentence,
				Position: position,
			})
		}
	}

	result.score()
	result.decideStrategy(classification)
	return result
}

func allowedAbsolute(rules *Rules, sentence string) bool {
	for _, re := range rules.allowedRE {
		if re.MatchString(sentence) {
			return true
		}
	}
	return false
}

// containsWord matches a phrase on word boundaries so "always" does not
// fire inside "hallways".
func containsWord(lower, phrase string) bool {
	idx := 0
	for {
		i := strings.Index(lower[idx:], phrase)
		if i == -1 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		beforeOK := start == 0 || !isWordByte(lower[start-1])
		afterOK := end == len(lower) || !isWordByte(lower[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

func countHedges(rules *Rules, lowerSentence string) int {
	count := 0
	for _, hedge := range rules.HedgeTokens {
		if containsWord(lowerSentence, hedge) {
			count++
		}
	}
	return count
}

func (r *LintResult) score() {
	var high, medium, clarity int
	for _, issue := range r.Issues {
		switch {
		case issue.Category == CategoryClarity:
			clarity++
		case issue.Severity == SeverityHigh:
			high++
		default:
			medium++
		}
	}

	r.CertaintyScore = clampScore(0.4*float64(high) + 0.15*float64(medium))
	r.ClarityScore = clampScore(1.0 - 0.25*float64(clarity))
	r.NeedsRepair = high > 0
}

// decideStrategy: anchor for ungrounded overconfidence, rewrite for
// contested overconfidence, clarify when hedging is the dominant
// problem.
func (r *LintResult) decideStrategy(classification *Classification) {
	var certainty, clarity int
	for _, issue := range r.Issues {
		if issue.Category == CategoryCertainty {
			certainty++
		} else {
			clarity++
		}
	}

	switch {
	case r.NeedsRepair && classification.Type == AnswerUngrounded:
		r.Strategy = StrategyAnchor
	case r.NeedsRepair && classification.Type == AnswerGroundedContested:
		r.Strategy = StrategyRewrite
	case clarity > certainty && clarity > 0:
		r.Strategy = StrategyClarify
	default:
		r.Strategy = StrategyNone
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
