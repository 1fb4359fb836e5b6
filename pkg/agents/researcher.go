package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marginalia-ai/marginalia/pkg/config"
	"github.com/marginalia-ai/marginalia/pkg/intent"
	"github.com/marginalia-ai/marginalia/pkg/llms"
)

// Researcher digs through retrieved sources and produces structured
// findings for later agents to build on. Its output is never shown to
// the user directly.
type Researcher struct {
	gateway *llms.Gateway
}

func NewResearcher(gateway *llms.Gateway) *Researcher {
	return &Researcher{gateway: gateway}
}

func (r *Researcher) Name() string { return "researcher" }

func (r *Researcher) CanHandle(intentName string) bool {
	return intentName == intent.IntentResearch || intentName == intent.IntentSummarize
}

const researcherSystemPrompt = `You are a research analyst. Work only from the numbered sources provided; never invent sources. Respond with a JSON object:

{
  "summary": "two or three sentences",
  "findings": [
    {"claim": "...", "source": 1, "quote": "short supporting quote", "confidence": 0.0}
  ],
  "themes": ["..."],
  "contradictions": ["..."],
  "gaps": ["..."],
  "open_questions": ["..."],
  "recommended_structure": ["..."]
}

"source" is the number of the source the claim rests on. Confidence is your 0..1 estimate of how well the quote supports the claim. Omit list fields you have nothing for. If the sources do not answer the question, say so in the summary and return an empty findings list.`

type researcherReply struct {
	Summary  string `json:"summary"`
	Findings []struct {
		Claim      string  `json:"claim"`
		Source     int     `json:"source"`
		Quote      string  `json:"quote"`
		Confidence float64 `json:"confidence"`
	} `json:"findings"`
	Themes               []string `json:"themes"`
	Contradictions       []string `json:"contradictions"`
	Gaps                 []string `json:"gaps"`
	OpenQuestions        []string `json:"open_questions"`
	RecommendedStructure []string `json:"recommended_structure"`
}

func (r *Researcher) Run(ctx context.Context, input *TurnInput) (*Output, error) {
	prompt := researcherSystemPrompt
	if input.ScholarMode {
		prompt += "\n\nThe user expects scholarly precision: quote exactly, distinguish primary from secondary sources, and flag contested claims."
	}

	result, err := r.gateway.Chat(ctx, config.RoleResearcher,
		buildMessages(prompt, input),
		&llms.ChatOptions{JSONMode: true})
	if err != nil {
		return nil, fmt.Errorf("researcher request failed: %w", err)
	}

	raw, err := extractJSON(result.Text)
	if err != nil {
		// An unparseable reply degrades to a plain-text note rather
		// than losing the work.
		return &Output{
			Agent:    r.Name(),
			Content:  Content{ResearchNotes: &ResearchNotes{Summary: result.Text}},
			Tokens:   result.Tokens,
			Provider: result.Provider,
			Model:    result.Model,
		}, nil
	}

	var reply researcherReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return &Output{
			Agent:    r.Name(),
			Content:  Content{ResearchNotes: &ResearchNotes{Summary: result.Text}},
			Tokens:   result.Tokens,
			Provider: result.Provider,
			Model:    result.Model,
		}, nil
	}

	notes := &ResearchNotes{
		Summary:              reply.Summary,
		Themes:               reply.Themes,
		Contradictions:       reply.Contradictions,
		Gaps:                 reply.Gaps,
		OpenQuestions:        reply.OpenQuestions,
		RecommendedStructure: reply.RecommendedStructure,
	}
	var citations []Citation
	for _, f := range reply.Findings {
		finding := Finding{
			Claim:      f.Claim,
			Quote:      f.Quote,
			Confidence: clamp01(f.Confidence),
		}
		if citation, ok := chunkCitation(input.Chunks, f.Source); ok {
			finding.File = citation.File
			finding.Page = citation.Page
			citation.Quote = f.Quote
			citations = append(citations, citation)
		}
		notes.Findings = append(notes.Findings, finding)
	}

	return &Output{
		Agent:     r.Name(),
		Content:   Content{ResearchNotes: notes},
		Citations: citations,
		Tokens:    result.Tokens,
		Provider:  result.Provider,
		Model:     result.Model,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var _ Agent = (*Researcher)(nil)
