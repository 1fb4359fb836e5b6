package intent

import (
	"regexp"
	"strings"
)

// heuristicRule matches an unambiguous phrasing to a single intent.
// Rules are checked in priority order so a memory command always ranks
// ahead of a writing request when both phrasings appear.
type heuristicRule struct {
	intent  string
	pattern *regexp.Regexp
}

var heuristicRules = []heuristicRule{
	{IntentMemory, regexp.MustCompile(`(?i)^\s*(remember|forget|don'?t forget)\b`)},
	{IntentMemory, regexp.MustCompile(`(?i)\b(what do you (know|remember) about me|update (my|your) memory)\b`)},
	{IntentPlan, regexp.MustCompile(`(?i)^\s*(plan|make|create|draft) (a |the |out )?(plan|roadmap|schedule)\b`)},
	{IntentPlan, regexp.MustCompile(`(?i)\bbreak (this|it|that) (down )?into (steps|tasks)\b`)},
	{IntentCode, regexp.MustCompile(`(?i)^\s*(write|implement|fix|debug|refactor) (a |the |some |this )?(function|script|code|program|test|bug)\b`)},
	{IntentCode, regexp.MustCompile("```")},
	{IntentWrite, regexp.MustCompile(`(?i)^\s*(write|draft|compose) (a |the |an )?(essay|email|post|article|letter|report|blog)\b`)},
	{IntentResearch, regexp.MustCompile(`(?i)^\s*(research|investigate|find (sources|papers|literature) (on|about))\b`)},
	{IntentResearch, regexp.MustCompile(`(?i)\bliterature review\b`)},
	{IntentSummarize, regexp.MustCompile(`(?i)^\s*(summarize|give me a summary of|tl;?dr)\b`)},
	{IntentExplain, regexp.MustCompile(`(?i)^\s*(explain|what is|what are|how does|why does|define)\b`)},
}

// heuristicIntents resolves clear-cut messages without an LLM call.
// Every matching rule contributes its intent, deduplicated, in rule
// priority order. Returns nil when no rule fires, which sends the
// message to the model.
func heuristicIntents(message string) []string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}

	seen := make(map[string]bool)
	var intents []string
	for _, rule := range heuristicRules {
		if seen[rule.intent] {
			continue
		}
		if rule.pattern.MatchString(trimmed) {
			seen[rule.intent] = true
			intents = append(intents, rule.intent)
		}
	}
	return intents
}
