package embedders

import (
	"fmt"

	"github.com/marginalia-ai/marginalia/pkg/config"
	"github.com/marginalia-ai/marginalia/pkg/registry"
)

// Provider maps text to fixed-width float32 vectors. For a given model
// identity the mapping must be deterministic: the same input produces
// byte-identical output on any worker.
type Provider interface {
	Embed(text string) ([]float32, error)

	EmbedMany(texts []string) ([][]float32, error)

	Dimension() int

	ModelName() string

	Close() error
}

// Registry holds configured embedders by name.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Provider]()}
}

// CreateFromConfig builds, registers, and returns an embedder.
func (r *Registry) CreateFromConfig(name string, cfg *config.EmbedderConfig) (Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("embedder name cannot be empty")
	}
	if cfg == nil {
		return nil, fmt.Errorf("embedder config cannot be nil")
	}

	var provider Provider
	var err error

	switch cfg.Type {
	case "openai":
		provider, err = NewOpenAIEmbedder(cfg)
	case "ollama":
		provider, err = NewOllamaEmbedder(cfg)
	case "local":
		provider, err = NewLocalEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder provider: %w", err)
	}

	if err := r.Register(name, provider); err != nil {
		return nil, fmt.Errorf("failed to register embedder: %w", err)
	}
	return provider, nil
}
