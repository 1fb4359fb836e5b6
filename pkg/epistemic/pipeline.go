package epistemic

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/marginalia-ai/marginalia/pkg/observability"
)

// Badge is the user-visible epistemic label. Ungrounded text carries no
// badge; it is never surfaced as one.
type Badge string

const (
	BadgeDeterministic Badge = "deterministic"
	BadgeGrounded      Badge = "grounded"
	BadgeContested     Badge = "contested"
	BadgeNone          Badge = ""
)

// Result is the pipeline's output. Original is always preserved.
type Result struct {
	Original  string
	Processed string
	Badge     Badge

	Classification *Classification
	Lint           *LintResult
	Anchors        []Anchor
	Repaired       bool
}

// Request carries everything the pipeline needs for one response.
type Request struct {
	Text      string
	QueryType QueryType
	// Sources supplies anchor evidence by tier; SourceCount is how many
	// retrieved chunks backed the response.
	Sources     Sources
	SourceCount int
	// Deep selects the larger anchor budget.
	Deep bool
	// SkipAnchor drops the anchor step when the turn deadline is close.
	// Classify, lint, and repair always run.
	SkipAnchor bool
}

// Pipeline runs classify, lint, anchor, repair over user-facing text.
type Pipeline struct {
	rules *RuleSet
}

func NewPipeline(rules *RuleSet) *Pipeline {
	return &Pipeline{rules: rules}
}

// Process never fails the turn: any internal panic returns the text
// unmodified with no badge.
func (p *Pipeline) Process(ctx context.Context, req *Request) (result *Result) {
	ctx, span := observability.GetTracer("marginalia.epistemic").Start(ctx, observability.SpanEpistemic)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("epistemic pipeline failed, returning text unmodified", "panic", r)
			result = &Result{Original: req.Text, Processed: req.Text, Badge: BadgeNone}
		}
	}()

	rules := p.rules.Current()

	classification := Classify(rules, req.Text, req.QueryType, req.SourceCount)
	lint := Lint(rules, classification, req.Text)

	var anchors []Anchor
	if lint.Strategy == StrategyAnchor && !req.SkipAnchor && len(req.Sources) > 0 {
		claim := anchorClaim(lint, req.Text)
		anchors = FindAnchors(ctx, rules, claim, req.Sources, req.Deep)
	}

	repair := Repair(rules, req.Text, lint, anchors)

	result = &Result{
		Original:       req.Text,
		Processed:      repair.Text,
		Badge:          badgeFor(classification, anchors),
		Classification: classification,
		Lint:           lint,
		Anchors:        anchors,
		Repaired:       repair.Repaired,
	}
	span.SetAttributes(
		attribute.String("epistemic.type", string(classification.Type)),
		attribute.String("epistemic.badge", string(result.Badge)),
		attribute.Bool("epistemic.repaired", result.Repaired),
	)
	return result
}

// anchorClaim picks the sentence worth anchoring: the first
// high-severity span, or the whole text as a fallback.
func anchorClaim(lint *LintResult, text string) string {
	if issue := firstHighIssue(lint); issue != nil {
		return issue.Span
	}
	return text
}

// badgeFor maps the classification to a badge. Ungrounded text earns
// the grounded badge only when anchoring actually attached evidence.
func badgeFor(classification *Classification, anchors []Anchor) Badge {
	switch classification.Type {
	case AnswerDeterministic:
		return BadgeDeterministic
	case AnswerGroundedDirect:
		return BadgeGrounded
	case AnswerGroundedContested:
		return BadgeContested
	case AnswerUngrounded:
		if len(anchors) > 0 {
			return BadgeGrounded
		}
	}
	return BadgeNone
}
