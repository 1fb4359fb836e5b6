package epistemic

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Snippet is a candidate piece of evidence from one source tier.
type Snippet struct {
	Text string
	// Ref is the human-readable citation, e.g. "notes.md p.3" or
	// "Romans 8:3".
	Ref string
}

// Anchor is evidence attached to a claim post-hoc.
type Anchor struct {
	Snippet   Snippet
	Relevance int
	Tier      string
}

// SourceFn lazily produces a tier's candidate snippets. Lazy so the
// library and reference tiers only pay their lookup cost when the
// budget allows reaching them.
type SourceFn func(ctx context.Context) []Snippet

// Sources maps tier name to its snippet producer. Tiers are consulted
// in the rule set's configured order.
type Sources map[string]SourceFn

// SessionSource wraps already-retrieved snippets as a tier.
func SessionSource(snippets []Snippet) SourceFn {
	return func(context.Context) []Snippet { return snippets }
}

// FindAnchors searches the source tiers for evidence supporting the
// claim, under a hard time budget. Relevance is keyword overlap with
// stop words removed; the floor is 2 shared words, or 1 when the claim
// itself has at most 3 content words. Partial results are returned when
// the budget runs out mid-search.
func FindAnchors(ctx context.Context, rules *Rules, claim string, sources Sources, deep bool) []Anchor {
	budget := time.Duration(rules.Anchor.FastBudgetMS) * time.Millisecond
	if deep {
		budget = time.Duration(rules.Anchor.DeepBudgetMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	keywords := contentWords(rules, claim)
	if len(keywords) == 0 {
		return nil
	}
	minOverlap := 2
	if len(keywords) <= 3 {
		minOverlap = 1
	}

	var anchors []Anchor
	for _, tier := range rules.Anchor.SourceOrder {
		if ctx.Err() != nil {
			break
		}
		produce, ok := sources[tier]
		if !ok || produce == nil {
			continue
		}
		for _, snippet := range produce(ctx) {
			if ctx.Err() != nil {
				break
			}
			overlap := overlapCount(keywords, contentWords(rules, snippet.Text))
			if overlap >= minOverlap {
				anchors = append(anchors, Anchor{Snippet: snippet, Relevance: overlap, Tier: tier})
			}
		}
	}

	sort.SliceStable(anchors, func(i, j int) bool { return anchors[i].Relevance > anchors[j].Relevance })
	max := rules.Anchor.MaxAnchors
	if max <= 0 {
		max = 3
	}
	if len(anchors) > max {
		anchors = anchors[:max]
	}
	return anchors
}

func contentWords(rules *Rules, text string) map[string]bool {
	words := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()[]")
		if word == "" || rules.stopWordSet[word] {
			continue
		}
		words[word] = true
	}
	return words
}

func overlapCount(a, b map[string]bool) int {
	count := 0
	for word := range a {
		if b[word] {
			count++
		}
	}
	return count
}
