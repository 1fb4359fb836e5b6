package agents

import (
	"fmt"
	"strings"

	"github.com/marginalia-ai/marginalia/pkg/llms"
	"github.com/marginalia-ai/marginalia/pkg/registry"
	"github.com/marginalia-ai/marginalia/pkg/retrieval"
)

// Registry holds the turn pipeline's agents by name.
type Registry struct {
	*registry.BaseRegistry[Agent]
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Agent]()}
}

// ForIntent returns the registered agents that serve an intent.
func (r *Registry) ForIntent(intent string) []Agent {
	var out []Agent
	for _, name := range r.Names() {
		if agent, ok := r.Get(name); ok && agent.CanHandle(intent) {
			out = append(out, agent)
		}
	}
	return out
}

// formatChunks renders retrieved chunks as a numbered source block.
// The numbering matches the [n] citation markers agents emit.
func formatChunks(chunks []retrieval.Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Sources:\n")
	for i, chunk := range chunks {
		location := chunk.File
		if chunk.Page > 0 {
			location = fmt.Sprintf("%s, p.%d", chunk.File, chunk.Page)
		}
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, location, chunk.Text)
	}
	return b.String()
}

// buildMessages assembles the standard prompt shape: system prompt with
// memory context appended, conversation history, then the user message
// with the source block ahead of it.
func buildMessages(systemPrompt string, input *TurnInput) []llms.Message {
	if input.MemoryContext != "" {
		systemPrompt += "\n\n" + input.MemoryContext
	}

	messages := make([]llms.Message, 0, len(input.History)+2)
	messages = append(messages, llms.System(systemPrompt))
	messages = append(messages, input.History...)

	userContent := input.Message
	if sources := formatChunks(input.Chunks); sources != "" {
		userContent = sources + "\n" + userContent
	}
	messages = append(messages, llms.User(userContent))
	return messages
}

// extractJSON returns the outermost JSON object in a model reply,
// tolerating surrounding prose and markdown fences.
func extractJSON(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("no JSON object in reply")
	}
	return text[start : end+1], nil
}

// chunkCitation builds a citation for the numbered chunk, if n is a
// valid 1-based index.
func chunkCitation(chunks []retrieval.Chunk, n int) (Citation, bool) {
	if n < 1 || n > len(chunks) {
		return Citation{}, false
	}
	chunk := chunks[n-1]
	return Citation{File: chunk.File, Page: chunk.Page}, true
}
