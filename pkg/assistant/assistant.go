// Package assistant is the composition root: it builds the full core
// from configuration and exposes the one entry point embedding
// applications call per turn.
package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marginalia-ai/marginalia/pkg/agents"
	"github.com/marginalia-ai/marginalia/pkg/config"
	"github.com/marginalia-ai/marginalia/pkg/embedders"
	"github.com/marginalia-ai/marginalia/pkg/epistemic"
	"github.com/marginalia-ai/marginalia/pkg/hermeneutic"
	"github.com/marginalia-ai/marginalia/pkg/intent"
	"github.com/marginalia-ai/marginalia/pkg/llms"
	"github.com/marginalia-ai/marginalia/pkg/memory"
	"github.com/marginalia-ai/marginalia/pkg/retrieval"
	"github.com/marginalia-ai/marginalia/pkg/router"
	"github.com/marginalia-ai/marginalia/pkg/vector"
)

// Assistant owns every long-lived component of the core.
type Assistant struct {
	cfg *config.Config

	providers   *llms.Registry
	gateway     *llms.Gateway
	embedder    embedders.Provider
	vectors     *vector.ChromemProvider
	store       *memory.Store
	coordinator *retrieval.Coordinator
	classifier  *intent.Classifier
	rules       *epistemic.RuleSet
	router      *router.Router
}

// New builds the assistant from a validated configuration. The
// classifier warm-up runs in the background; the first turn can arrive
// immediately.
func New(cfg *config.Config) (*Assistant, error) {
	providers := llms.NewRegistry()
	for name, providerCfg := range cfg.Providers {
		providerCfg := providerCfg
		if _, err := providers.CreateFromConfig(name, &providerCfg); err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
	}
	gateway := llms.NewGateway(providers, cfg.Roles)

	embedderRegistry := embedders.NewRegistry()
	embedder, err := embedderRegistry.CreateFromConfig("default", &cfg.Embedder)
	if err != nil {
		return nil, err
	}

	vectors, err := vector.NewChromemProvider(cfg.Vector)
	if err != nil {
		return nil, err
	}

	store, err := memory.NewStoreFromConfig(cfg.Memory, embedder)
	if err != nil {
		return nil, err
	}

	coordinator := retrieval.NewCoordinator(embedder, vectors, cfg.Retrieval)

	classifier, err := intent.NewClassifier(gateway, cfg.Classifier)
	if err != nil {
		return nil, err
	}

	registry := agents.NewRegistry()
	for name, agent := range map[string]agents.Agent{
		"researcher": agents.NewResearcher(gateway),
		"writer":     agents.NewWriter(gateway),
		"engineer":   agents.NewEngineer(gateway),
		"planner":    agents.NewPlanner(gateway, store),
		"archivist":  agents.NewArchivist(gateway, store),
	} {
		if err := registry.Register(name, agent); err != nil {
			return nil, err
		}
	}

	rules, err := epistemic.NewRuleSet(cfg.Epistemic.RulesPath, cfg.Epistemic.WatchRules)
	if err != nil {
		return nil, fmt.Errorf("epistemic rules: %w", err)
	}
	rules.SetAnchorBudgets(cfg.Epistemic.AnchorFastMS, cfg.Epistemic.AnchorDeepMS)

	overlay, err := hermeneutic.Load(cfg.Hermeneutic)
	if err != nil {
		return nil, fmt.Errorf("hermeneutic overlay: %w", err)
	}

	a := &Assistant{
		cfg:         cfg,
		providers:   providers,
		gateway:     gateway,
		embedder:    embedder,
		vectors:     vectors,
		store:       store,
		coordinator: coordinator,
		classifier:  classifier,
		rules:       rules,
		router: router.NewRouter(router.Deps{
			Classifier:  classifier,
			Agents:      registry,
			Coordinator: coordinator,
			Store:       store,
			Gateway:     gateway,
			Epistemic:   epistemic.NewPipeline(rules),
			Overlay:     overlay,
		}),
	}

	go classifier.Warm(context.Background())
	return a, nil
}

// HandleTurn serves one user turn. includeTrace controls whether the
// diagnostic trace travels back to the caller.
func (a *Assistant) HandleTurn(ctx context.Context, req *router.Request, includeTrace bool) *router.Result {
	result := a.router.Handle(ctx, req)
	if !includeTrace {
		result.Trace = nil
	}
	return result
}

// IndexProject ingests a document into a project's collection.
func (a *Assistant) IndexProject(ctx context.Context, projectID string, doc retrieval.Document) (int, error) {
	return a.coordinator.IndexProject(ctx, projectID, doc)
}

// IndexLibrary ingests a document into the shared library.
func (a *Assistant) IndexLibrary(ctx context.Context, doc retrieval.Document) (int, error) {
	return a.coordinator.IndexLibrary(ctx, doc)
}

// Memory exposes the store for direct administration.
func (a *Assistant) Memory() *memory.Store { return a.store }

// Gateway exposes the LLM gateway, mainly for availability probes.
func (a *Assistant) Gateway() *llms.Gateway { return a.gateway }

// Close releases every component. Errors are logged and the first one
// is returned; shutdown continues regardless.
func (a *Assistant) Close() error {
	var firstErr error
	record := func(what string, err error) {
		if err != nil {
			slog.Warn("shutdown error", "component", what, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", what, err)
			}
		}
	}

	record("epistemic rules", a.rules.Close())
	record("vector store", a.vectors.Close())
	record("memory store", a.store.Close())
	record("embedder", a.embedder.Close())
	record("llm providers", a.providers.Close())
	return firstErr
}
