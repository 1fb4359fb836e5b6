package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/marginalia-ai/marginalia/pkg/config"
	"github.com/marginalia-ai/marginalia/pkg/intent"
	"github.com/marginalia-ai/marginalia/pkg/llms"
)

// Writer produces user-facing prose: essays, emails, posts, summaries,
// and explanations. When research ran earlier in the turn it writes
// from those findings and keeps their [n] citation markers.
type Writer struct {
	gateway *llms.Gateway
}

func NewWriter(gateway *llms.Gateway) *Writer {
	return &Writer{gateway: gateway}
}

func (w *Writer) Name() string { return "writer" }

func (w *Writer) CanHandle(intentName string) bool {
	switch intentName {
	case intent.IntentWrite, intent.IntentSummarize, intent.IntentExplain, intent.IntentResearch:
		return true
	}
	return false
}

// outputForm is the kind of prose requested, detected from the message.
type outputForm string

const (
	formArticle     outputForm = "article"
	formSummary     outputForm = "summary"
	formExplanation outputForm = "explanation"
	formOutline     outputForm = "outline"
	formDraft       outputForm = "draft"
	formBrief       outputForm = "brief"
	formStandard    outputForm = "standard"
)

var formPatterns = []struct {
	form    outputForm
	pattern *regexp.Regexp
}{
	{formOutline, regexp.MustCompile(`(?i)\boutline\b`)},
	{formSummary, regexp.MustCompile(`(?i)\b(summar(y|ize|ise)|tl;?dr)\b`)},
	{formBrief, regexp.MustCompile(`(?i)\b(brief|memo|report)\b`)},
	{formArticle, regexp.MustCompile(`(?i)\b(article|essay|(blog )?post)\b`)},
	{formExplanation, regexp.MustCompile(`(?i)\b(explain|explanation)\b`)},
	{formDraft, regexp.MustCompile(`(?i)\b(draft|email|e-mail|letter)\b`)},
}

func detectForm(message string) outputForm {
	for _, fp := range formPatterns {
		if fp.pattern.MatchString(message) {
			return fp.form
		}
	}
	return formStandard
}

func (w *Writer) Run(ctx context.Context, input *TurnInput) (*Output, error) {
	form := detectForm(input.Message)

	var prompt strings.Builder
	if form == formStandard {
		prompt.WriteString("You are a skilled writer producing a direct response for the user.")
	} else {
		fmt.Fprintf(&prompt, "You are a skilled writer producing a %s for the user. Match the register the form calls for.", form)
	}
	if input.ScholarMode {
		prompt.WriteString(" The user expects scholarly register: precise claims, hedged where evidence is thin, citation markers kept.")
	}

	notes := input.PriorNotes()
	if notes != nil {
		prompt.WriteString("\n\nWrite from these research findings. Keep the [n] source markers on every claim you take from them; do not introduce claims the findings do not support.\n\n")
		prompt.WriteString(formatNotes(notes))
	} else if len(input.Chunks) > 0 {
		prompt.WriteString("\n\nGround what you write in the numbered sources and mark sourced claims with their [n] number.")
	}

	result, err := w.gateway.Chat(ctx, config.RoleWriter, buildMessages(prompt.String(), input), nil)
	if err != nil {
		return nil, fmt.Errorf("writer request failed: %w", err)
	}

	return &Output{
		Agent:     w.Name(),
		Content:   Content{Text: result.Text},
		IsFinal:   true,
		Citations: citationsFromMarkers(result.Text, input),
		Tokens:    result.Tokens,
		Provider:  result.Provider,
		Model:     result.Model,
	}, nil
}

// formatNotes renders research notes for the writer's prompt, numbering
// findings so markers survive into the prose.
func formatNotes(notes *ResearchNotes) string {
	var b strings.Builder
	if notes.Summary != "" {
		b.WriteString("Summary: " + notes.Summary + "\n")
	}
	for i, f := range notes.Findings {
		fmt.Fprintf(&b, "[%d] %s", i+1, f.Claim)
		if f.File != "" {
			fmt.Fprintf(&b, " (%s", f.File)
			if f.Page > 0 {
				fmt.Fprintf(&b, ", p.%d", f.Page)
			}
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

var markerPattern = regexp.MustCompile(`\[(\d+)\]`)

// citationsFromMarkers resolves [n] markers in prose against the turn's
// findings or chunks, deduplicated in first-use order.
func citationsFromMarkers(text string, input *TurnInput) []Citation {
	matches := markerPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	notes := input.PriorNotes()
	seen := make(map[int]bool)
	var citations []Citation
	for _, match := range matches {
		n := 0
		fmt.Sscanf(match[1], "%d", &n)
		if n < 1 || seen[n] {
			continue
		}
		seen[n] = true

		if notes != nil && n <= len(notes.Findings) {
			f := notes.Findings[n-1]
			if f.File != "" {
				citations = append(citations, Citation{File: f.File, Page: f.Page, Quote: f.Quote})
			}
			continue
		}
		if citation, ok := chunkCitation(input.Chunks, n); ok {
			citations = append(citations, citation)
		}
	}
	return citations
}

var _ Agent = (*Writer)(nil)
