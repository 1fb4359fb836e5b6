package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration tree.
type Config struct {
	Logging     LoggingConfig                `yaml:"logging"`
	Providers   map[string]LLMProviderConfig `yaml:"providers"`
	Roles       RolesConfig                  `yaml:"roles"`
	Embedder    EmbedderConfig               `yaml:"embedder"`
	Vector      VectorConfig                 `yaml:"vector"`
	Memory      MemoryConfig                 `yaml:"memory"`
	Classifier  ClassifierConfig             `yaml:"classifier"`
	Retrieval   RetrievalConfig              `yaml:"retrieval"`
	Epistemic   EpistemicConfig              `yaml:"epistemic"`
	Hermeneutic HermeneuticConfig            `yaml:"hermeneutic"`
}

// SetDefaults fills every section's defaults. API keys missing from the
// file are pulled from the conventional environment variables.
func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.Roles.SetDefaults()
	c.Embedder.SetDefaults()
	c.Memory.SetDefaults()
	c.Classifier.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Epistemic.SetDefaults()

	if c.Providers == nil {
		c.Providers = make(map[string]LLMProviderConfig)
	}
	for name, p := range c.Providers {
		p.SetDefaults()
		if p.APIKey == "" {
			p.APIKey = ProviderAPIKey(p.Type)
		}
		c.Providers[name] = p
	}
	if c.Embedder.APIKey == "" {
		c.Embedder.APIKey = ProviderAPIKey(c.Embedder.Type)
	}
}

// Validate checks the whole tree. Defaults must be applied first.
func (c *Config) Validate() error {
	for name, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("provider %q: %w", name, err)
		}
	}
	if err := c.Embedder.Validate(); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	for role, assignment := range c.Roles.Assignments {
		if assignment.Provider == "" {
			return fmt.Errorf("role %q: provider is required", role)
		}
	}
	return nil
}

// Load reads, env-expands, defaults, and validates a YAML config file.
// A missing path yields the zero config with defaults applied.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, err
		}
	} else {
		cfg.SetDefaults()
	}

	if cfg.Roles.ModesFile != "" {
		if err := cfg.loadModes(cfg.Roles.ModesFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML bytes into a defaulted Config. Environment
// references in the raw tree are expanded before decoding so defaults
// like ${OPENAI_API_KEY} work anywhere a string is expected.
func Parse(data []byte) (*Config, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	expanded := ExpandEnvVarsInData(raw)
	normalized, err := yaml.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(normalized, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.SetDefaults()
	return cfg, nil
}

// modesFile mirrors the modes.json shape: a role→assignment object with
// an optional fallback order.
type modesFile struct {
	Roles         map[string]RoleAssignment `json:"roles"`
	FallbackOrder []string                  `json:"fallback_order,omitempty"`
}

func (c *Config) loadModes(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read modes file: %w", err)
	}

	var modes modesFile
	if err := json.Unmarshal(data, &modes); err != nil {
		return fmt.Errorf("failed to parse modes file: %w", err)
	}

	for role, assignment := range modes.Roles {
		c.Roles.Assignments[role] = assignment
	}
	if len(modes.FallbackOrder) > 0 {
		c.Roles.FallbackOrder = modes.FallbackOrder
	}
	return nil
}
