package epistemic

import (
	"sort"
	"strings"
	"unicode"
)

// RepairResult is the outcome of one repair pass.
type RepairResult struct {
	Text     string
	Repaired bool
	Anchors  []Anchor
}

// Repair applies the chosen strategy minimally. anchor splices
// citations after the first high-severity sentence and falls back to
// rewrite when no anchors were found; rewrite softens each risky phrase
// in place; clarify never edits.
func Repair(rules *Rules, text string, lint *LintResult, anchors []Anchor) *RepairResult {
	if !lint.NeedsRepair {
		return &RepairResult{Text: text}
	}

	switch lint.Strategy {
	case StrategyAnchor:
		if len(anchors) > 0 {
			return spliceAnchors(text, lint, anchors)
		}
		return soften(rules, text, lint)
	case StrategyRewrite:
		return soften(rules, text, lint)
	default:
		return &RepairResult{Text: text}
	}
}

// spliceAnchors inserts an inline citation list directly after the
// first high-severity sentence, leaving the sentence itself untouched.
func spliceAnchors(text string, lint *LintResult, anchors []Anchor) *RepairResult {
	target := firstHighIssue(lint)
	if target == nil {
		return &RepairResult{Text: text, Anchors: anchors}
	}

	end := target.Position + len(target.Span)
	if end > len(text) {
		end = len(text)
	}

	refs := make([]string, len(anchors))
	for i, anchor := range anchors {
		refs[i] = anchor.Snippet.Ref
	}
	citation := " [" + strings.Join(refs, "; ") + "]"

	return &RepairResult{
		Text:     text[:end] + citation + text[end:],
		Repaired: true,
		Anchors:  anchors,
	}
}

// soften replaces each high-severity phrase with its table entry,
// preserving the original capitalization of the first letter. Phrases
// without a table entry are left alone.
func soften(rules *Rules, text string, lint *LintResult) *RepairResult {
	out := text
	repaired := false

	// Longest phrases first so "definitively proves" wins over
	// "definitively".
	phrases := make([]string, 0, len(rules.Softening))
	for phrase := range rules.Softening {
		phrases = append(phrases, phrase)
	}
	sort.Slice(phrases, func(i, j int) bool {
		if len(phrases[i]) != len(phrases[j]) {
			return len(phrases[i]) > len(phrases[j])
		}
		return phrases[i] < phrases[j]
	})

	for _, phrase := range phrases {
		out, repaired = replaceCasePreserving(out, phrase, rules.Softening[phrase], repaired)
	}

	return &RepairResult{Text: out, Repaired: repaired}
}

// replaceCasePreserving replaces every case-insensitive occurrence of
// phrase, matching the capitalization of each occurrence's first rune.
func replaceCasePreserving(text, phrase, replacement string, alreadyRepaired bool) (string, bool) {
	lower := strings.ToLower(text)
	phrase = strings.ToLower(phrase)
	repaired := alreadyRepaired

	var b strings.Builder
	idx := 0
	for {
		i := strings.Index(lower[idx:], phrase)
		if i == -1 {
			b.WriteString(text[idx:])
			break
		}
		start := idx + i
		b.WriteString(text[idx:start])

		original := text[start : start+len(phrase)]
		b.WriteString(matchCase(original, replacement))
		repaired = true
		idx = start + len(phrase)
	}
	return b.String(), repaired
}

func matchCase(original, replacement string) string {
	if original == "" || replacement == "" {
		return replacement
	}
	first := []rune(original)[0]
	if unicode.IsUpper(first) {
		runes := []rune(replacement)
		runes[0] = unicode.ToUpper(runes[0])
		return string(runes)
	}
	return replacement
}

func firstHighIssue(lint *LintResult) *Issue {
	var first *Issue
	for i := range lint.Issues {
		issue := &lint.Issues[i]
		if issue.Severity != SeverityHigh {
			continue
		}
		if first == nil || issue.Position < first.Position {
			first = issue
		}
	}
	return first
}
