package agents

import (
	"context"

	"github.com/marginalia-ai/marginalia/pkg/llms"
	"github.com/marginalia-ai/marginalia/pkg/retrieval"
)

// Agent is one specialist in the turn pipeline. Agents are stateless
// between turns; everything they need arrives in the TurnInput.
type Agent interface {
	Name() string

	// CanHandle reports whether the agent serves the given intent.
	CanHandle(intent string) bool

	// Run executes the agent's step. Agents return errors only for
	// failures the turn cannot recover from; degraded results are
	// expressed in the output itself.
	Run(ctx context.Context, input *TurnInput) (*Output, error)
}

// TurnInput carries everything an agent may draw on for one step.
type TurnInput struct {
	Message   string
	UserID    string
	ProjectID string

	// History is the prior conversation, oldest first.
	History []llms.Message

	// MemoryContext is the pre-rendered memory block, "" when no
	// memories were selected.
	MemoryContext string

	// Chunks are the retrieved document slices for this turn.
	Chunks []retrieval.Chunk

	// PriorOutputs are the outputs of agents that already ran this
	// turn, in execution order.
	PriorOutputs []*Output

	// ScholarMode requests precise, citation-forward register.
	ScholarMode bool
}

// PriorNotes returns the most recent research notes produced earlier in
// the turn, or nil.
func (in *TurnInput) PriorNotes() *ResearchNotes {
	for i := len(in.PriorOutputs) - 1; i >= 0; i-- {
		if notes := in.PriorOutputs[i].Content.ResearchNotes; notes != nil {
			return notes
		}
	}
	return nil
}

// Output is one agent's contribution to a turn.
type Output struct {
	Agent   string
	Content Content

	// IsFinal marks content meant for the user verbatim. Non-final
	// outputs feed later agents.
	IsFinal bool

	Citations []Citation
	Tokens    int

	// Provider and Model identify the LLM that produced this output,
	// empty when no model was consulted.
	Provider string
	Model    string

	// Error carries a user-safe description when the agent failed but
	// the turn continued.
	Error string
}

// Content is a tagged union; exactly one field is non-zero.
type Content struct {
	Text          string
	ResearchNotes *ResearchNotes
	ProjectPlan   *ProjectPlan
	CodeArtifacts *CodeArtifacts
	MemoryChanges *MemoryChanges
}

// Citation points at a retrieved source passage.
type Citation struct {
	File  string
	Page  int
	Quote string
}

// ResearchNotes is the researcher's structured result.
type ResearchNotes struct {
	Summary        string
	Findings       []Finding
	Themes         []string
	Contradictions []string
	Gaps           []string
	OpenQuestions  []string
	// RecommendedStructure sketches how a written piece could be
	// organized from the findings.
	RecommendedStructure []string
}

// Finding is one sourced claim.
type Finding struct {
	Claim      string
	File       string
	Page       int
	Quote      string
	Confidence float64
}

// ProjectPlan is the planner's result: either clarifying questions or
// an ordered task list, never both.
type ProjectPlan struct {
	ClarifyingQuestions []string
	Tasks               []PlanTask
}

// PlanTask is one step of a plan. DependsOn holds indexes into the
// plan's task list.
type PlanTask struct {
	Type        string
	Description string
	Agent       string
	DependsOn   []int
	Scope       string
}

// CodeArtifacts is the engineer's result.
type CodeArtifacts struct {
	Explanation string
	Artifacts   []CodeArtifact
}

// CodeArtifact is one produced file or snippet.
type CodeArtifact struct {
	Language string
	Filename string
	Code     string
}

// MemoryChanges records what the archivist did to the memory store.
type MemoryChanges struct {
	Stored       []string
	Updated      []string
	Forgotten    []string
	Consolidated []string

	// Ack is the user-facing confirmation line.
	Ack string
}

// Changed reports whether any operation actually happened.
func (m *MemoryChanges) Changed() bool {
	return len(m.Stored)+len(m.Updated)+len(m.Forgotten)+len(m.Consolidated) > 0
}
