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

// Engineer writes and fixes code. Fenced code blocks in the reply are
// parsed into named artifacts; the surrounding prose becomes the
// explanation.
type Engineer struct {
	gateway *llms.Gateway
}

func NewEngineer(gateway *llms.Gateway) *Engineer {
	return &Engineer{gateway: gateway}
}

func (e *Engineer) Name() string { return "engineer" }

func (e *Engineer) CanHandle(intentName string) bool {
	return intentName == intent.IntentCode
}

const engineerSystemPrompt = `You are a pragmatic software engineer. Write working, idiomatic code for the user's request.

Put every file or snippet in a fenced code block. When a block is a complete file, put its path on the line directly before the fence, like:

path/to/file.py
` + "```python\n...\n```" + `

Keep explanations short and before or after the code, never inside it.`

func (e *Engineer) Run(ctx context.Context, input *TurnInput) (*Output, error) {
	result, err := e.gateway.Chat(ctx, config.RoleEngineer, buildMessages(engineerSystemPrompt, input), nil)
	if err != nil {
		return nil, fmt.Errorf("engineer request failed: %w", err)
	}

	explanation, artifacts := parseArtifacts(result.Text)
	return &Output{
		Agent: e.Name(),
		Content: Content{CodeArtifacts: &CodeArtifacts{
			Explanation: explanation,
			Artifacts:   artifacts,
		}},
		IsFinal:  true,
		Tokens:   result.Tokens,
		Provider: result.Provider,
		Model:    result.Model,
	}, nil
}

var fencePattern = regexp.MustCompile("(?ms)^```([a-zA-Z0-9+#._-]*)[ \t]*\n(.*?)^```[ \t]*$")

var filenamePattern = regexp.MustCompile(`^[\w./-]+\.\w{1,10}$`)

// parseArtifacts splits a reply into prose and fenced code blocks. A
// bare filename on the line before a fence names the artifact.
func parseArtifacts(text string) (string, []CodeArtifact) {
	matches := fencePattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(text), nil
	}

	var prose strings.Builder
	var artifacts []CodeArtifact
	last := 0

	for _, m := range matches {
		before := text[last:m[0]]
		language := text[m[2]:m[3]]
		code := text[m[4]:m[5]]
		last = m[1]

		filename := ""
		beforeLines := strings.Split(strings.TrimRight(before, "\n"), "\n")
		if len(beforeLines) > 0 {
			candidate := strings.TrimSpace(beforeLines[len(beforeLines)-1])
			if filenamePattern.MatchString(candidate) {
				filename = candidate
				before = strings.Join(beforeLines[:len(beforeLines)-1], "\n")
			}
		}

		prose.WriteString(before)
		artifacts = append(artifacts, CodeArtifact{
			Language: language,
			Filename: filename,
			Code:     strings.TrimRight(code, "\n"),
		})
	}
	prose.WriteString(text[last:])

	return strings.TrimSpace(prose.String()), artifacts
}

var _ Agent = (*Engineer)(nil)
