package llms

import "context"

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant returns an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// ChatOptions tune a single request. The zero value uses provider
// defaults.
type ChatOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// JSONMode asks the provider for a JSON object response where the
	// provider supports it; otherwise the schema instruction is folded
	// into the system prompt.
	JSONMode bool
}

// ChatResult is a completed generation.
type ChatResult struct {
	Text     string
	Tokens   int
	Provider string
	Model    string
}

// Provider is the narrow interface every upstream LLM sits behind.
type Provider interface {
	Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*ChatResult, error)

	// IsConfigured reports whether the provider has what it needs to
	// serve requests (credentials, reachable host).
	IsConfigured() bool

	ListModels(ctx context.Context) ([]string, error)

	ModelName() string

	Name() string

	Close() error
}
