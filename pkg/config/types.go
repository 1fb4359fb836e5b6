package config

import (
	"fmt"
	"time"
)

// Role names the gateway resolves to providers.
const (
	RoleResearcher = "researcher"
	RoleWriter     = "writer"
	RoleEngineer   = "engineer"
	RoleArchivist  = "archivist"
	RolePlanner    = "planner"
	RoleClassifier = "classifier"
)

// Roles lists every gateway role in a stable order.
func Roles() []string {
	return []string{RoleResearcher, RoleWriter, RoleEngineer, RoleArchivist, RolePlanner, RoleClassifier}
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// LLMProviderConfig configures one upstream LLM provider.
type LLMProviderConfig struct {
	Type        string  `yaml:"type"` // openai, anthropic, ollama
	APIKey      string  `yaml:"api_key,omitempty"`
	Host        string  `yaml:"host,omitempty"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	Timeout     int     `yaml:"timeout,omitempty"` // seconds
	MaxRetries  int     `yaml:"max_retries,omitempty"`
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		// Local models (ollama) get the long classification budget.
		if c.Type == "ollama" {
			c.Timeout = 300
		} else {
			c.Timeout = 120
		}
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

func (c *LLMProviderConfig) Validate() error {
	switch c.Type {
	case "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("unsupported LLM type: %s (supported: openai, anthropic, ollama)", c.Type)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required for %s provider", c.Type)
	}
	return nil
}

// TimeoutDuration returns the request timeout as a duration.
func (c *LLMProviderConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// RoleAssignment pins a role to a provider and optionally a model.
type RoleAssignment struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model,omitempty" json:"model,omitempty"`
}

// RolesConfig maps gateway roles to providers with an ordered fallback
// list used when the preferred provider is not configured.
type RolesConfig struct {
	Assignments   map[string]RoleAssignment `yaml:"assignments,omitempty"`
	FallbackOrder []string                  `yaml:"fallback_order,omitempty"`
	ModesFile     string                    `yaml:"modes_file,omitempty"`
}

func (c *RolesConfig) SetDefaults() {
	if c.Assignments == nil {
		c.Assignments = make(map[string]RoleAssignment)
	}
	if len(c.FallbackOrder) == 0 {
		c.FallbackOrder = []string{"anthropic", "openai", "ollama"}
	}
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	Type      string `yaml:"type"` // openai, ollama, local
	Model     string `yaml:"model,omitempty"`
	Host      string `yaml:"host,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	Dimension int    `yaml:"dimension,omitempty"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "local"
	}
	if c.Dimension == 0 {
		c.Dimension = 384
	}
	if c.Model == "" {
		switch c.Type {
		case "openai":
			c.Model = "text-embedding-3-small"
		case "ollama":
			c.Model = "nomic-embed-text"
		case "local":
			c.Model = "feature-hash-v1"
		}
	}
}

func (c *EmbedderConfig) Validate() error {
	switch c.Type {
	case "openai", "ollama", "local":
	default:
		return fmt.Errorf("unsupported embedder type: %s", c.Type)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("embedder dimension must be positive")
	}
	return nil
}

// VectorConfig configures the embedded vector store.
type VectorConfig struct {
	PersistPath string `yaml:"persist_path,omitempty"`
	Compress    bool   `yaml:"compress,omitempty"`
}

// MemoryConfig bounds and tunes the tiered memory store.
type MemoryConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres, mysql
	DSN    string `yaml:"dsn"`

	CoreCap            int     `yaml:"core_cap"`
	MaxContextMemories int     `yaml:"max_context_memories"`
	LongTermThreshold  float64 `yaml:"long_term_threshold"`
	EpisodicThreshold  float64 `yaml:"episodic_threshold"`

	EpisodicHalfLifeDays float64 `yaml:"episodic_half_life_days"`
	LongTermHalfLifeDays float64 `yaml:"long_term_half_life_days"`
}

func (c *MemoryConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.DSN == "" && c.Driver == "sqlite" {
		c.DSN = "marginalia.db"
	}
	if c.CoreCap <= 0 {
		c.CoreCap = 10
	}
	if c.MaxContextMemories <= 0 {
		c.MaxContextMemories = 15
	}
	if c.LongTermThreshold == 0 {
		c.LongTermThreshold = 0.20
	}
	if c.EpisodicThreshold == 0 {
		c.EpisodicThreshold = 0.15
	}
	if c.EpisodicHalfLifeDays == 0 {
		c.EpisodicHalfLifeDays = 14
	}
	if c.LongTermHalfLifeDays == 0 {
		c.LongTermHalfLifeDays = 180
	}
}

func (c *MemoryConfig) Validate() error {
	switch c.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported memory driver: %s (supported: sqlite, postgres, mysql)", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("memory dsn is required")
	}
	return nil
}

// ClassifierConfig tunes the intent classifier.
type ClassifierConfig struct {
	CacheCapacity int    `yaml:"cache_capacity"`
	Model         string `yaml:"model,omitempty"`
}

func (c *ClassifierConfig) SetDefaults() {
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = 500
	}
}

// RetrievalConfig bounds per-turn retrieval.
type RetrievalConfig struct {
	LibraryCollection string  `yaml:"library_collection"`
	ProjectPrefix     string  `yaml:"project_prefix"`
	MaxChunks         int     `yaml:"max_chunks"`
	PerFileCap        int     `yaml:"per_file_cap"`
	DiversifiedCap    int     `yaml:"diversified_cap"`
	LibraryK          int     `yaml:"library_k"`
	LibraryMinScore   float64 `yaml:"library_min_score"`
}

func (c *RetrievalConfig) SetDefaults() {
	if c.LibraryCollection == "" {
		c.LibraryCollection = "library"
	}
	if c.ProjectPrefix == "" {
		c.ProjectPrefix = "project_"
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = 30
	}
	if c.PerFileCap <= 0 {
		c.PerFileCap = 5
	}
	if c.DiversifiedCap <= 0 {
		c.DiversifiedCap = 25
	}
	if c.LibraryK <= 0 {
		c.LibraryK = 10
	}
	if c.LibraryMinScore == 0 {
		c.LibraryMinScore = 0.3
	}
}

// EpistemicConfig locates the rule file and sets anchor budgets.
type EpistemicConfig struct {
	RulesPath    string `yaml:"rules_path,omitempty"`
	WatchRules   bool   `yaml:"watch_rules,omitempty"`
	AnchorFastMS int    `yaml:"anchor_fast_ms"`
	AnchorDeepMS int    `yaml:"anchor_deep_ms"`
}

func (c *EpistemicConfig) SetDefaults() {
	if c.AnchorFastMS <= 0 {
		c.AnchorFastMS = 250
	}
	if c.AnchorDeepMS <= 0 {
		c.AnchorDeepMS = 800
	}
}

// HermeneuticConfig locates overlay constraint and profile files.
type HermeneuticConfig struct {
	ConstraintsPath string `yaml:"constraints_path,omitempty"`
	ProfilesDir     string `yaml:"profiles_dir,omitempty"`
}
