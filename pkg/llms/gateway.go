package llms

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/marginalia-ai/marginalia/pkg/config"
)

// Gateway resolves named roles (researcher, writer, engineer,
// archivist, planner, classifier) to providers and gives the rest of
// the core one uniform Chat surface. A role's preferred provider is
// taken from configuration; if it is absent or unconfigured the
// gateway walks the fallback order.
type Gateway struct {
	registry *Registry
	roles    config.RolesConfig

	encOnce sync.Once
	encoder *tiktoken.Tiktoken
}

func NewGateway(reg *Registry, roles config.RolesConfig) *Gateway {
	return &Gateway{registry: reg, roles: roles}
}

// Chat sends role-tagged messages through the provider assigned to the
// role. Token counts missing from the provider response are estimated.
func (g *Gateway) Chat(ctx context.Context, role string, messages []Message, opts *ChatOptions) (*ChatResult, error) {
	provider, pinnedModel, err := g.resolve(role)
	if err != nil {
		return nil, err
	}

	if pinnedModel != "" {
		if opts == nil {
			opts = &ChatOptions{}
		}
		if opts.Model == "" {
			opts.Model = pinnedModel
		}
	}

	result, err := provider.Chat(ctx, messages, opts)
	if err != nil {
		return nil, err
	}

	if result.Tokens == 0 {
		result.Tokens = g.estimateTokens(messages, result.Text)
	}
	return result, nil
}

// IsAvailable reports whether some provider can serve the role.
func (g *Gateway) IsAvailable(role string) bool {
	_, _, err := g.resolve(role)
	return err == nil
}

// ListModels aggregates model listings across configured providers.
func (g *Gateway) ListModels(ctx context.Context) map[string][]string {
	out := make(map[string][]string)
	for _, name := range g.registry.Names() {
		provider, ok := g.registry.Get(name)
		if !ok || !provider.IsConfigured() {
			continue
		}
		models, err := provider.ListModels(ctx)
		if err != nil {
			continue
		}
		sort.Strings(models)
		out[name] = models
	}
	return out
}

// resolve walks preferred provider then fallback order.
func (g *Gateway) resolve(role string) (Provider, string, error) {
	if assignment, ok := g.roles.Assignments[role]; ok {
		if provider, exists := g.registry.Get(assignment.Provider); exists && provider.IsConfigured() {
			return provider, assignment.Model, nil
		}
	}

	for _, name := range g.roles.FallbackOrder {
		if provider, exists := g.registry.Get(name); exists && provider.IsConfigured() {
			return provider, "", nil
		}
	}

	return nil, "", NewFailure(ErrKindNoProvider, "",
		fmt.Errorf("no configured provider for role %q", role))
}

// estimateTokens approximates usage with the cl100k_base encoding when
// a provider omits usage numbers. Falls back to a bytes/4 heuristic if
// the encoding cannot be loaded.
func (g *Gateway) estimateTokens(messages []Message, completion string) int {
	g.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			g.encoder = enc
		}
	})

	total := 0
	if g.encoder != nil {
		for _, m := range messages {
			total += len(g.encoder.Encode(m.Content, nil, nil))
		}
		total += len(g.encoder.Encode(completion, nil, nil))
		return total
	}

	for _, m := range messages {
		total += len(m.Content) / 4
	}
	return total + len(completion)/4
}
