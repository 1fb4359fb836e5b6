package memory

import (
	"fmt"
	"time"
)

// Tier places a memory in the lifecycle hierarchy.
type Tier string

const (
	// TierCore memories are always injected into context and capped
	// per user.
	TierCore Tier = "core"
	// TierLongTerm memories decay with a 180-day half-life.
	TierLongTerm Tier = "long_term"
	// TierEpisodic memories decay with a 14-day half-life.
	TierEpisodic Tier = "episodic"
)

// ValidTier reports whether t is one of the three tiers.
func ValidTier(t Tier) bool {
	switch t {
	case TierCore, TierLongTerm, TierEpisodic:
		return true
	}
	return false
}

// Source records how a memory came to exist.
type Source string

const (
	SourceManual Source = "manual"
	SourceAuto   Source = "auto"
)

// Recommended categories. The column is free-form; these are the values
// the archivist and settings default to.
const (
	CategoryIdentity     = "identity"
	CategoryPreference   = "preference"
	CategoryValues       = "values"
	CategoryProject      = "project"
	CategoryFact         = "fact"
	CategoryGoal         = "goal"
	CategorySkill        = "skill"
	CategoryRelationship = "relationship"
)

// DefaultAutoSaveCategories are stored into new settings rows.
func DefaultAutoSaveCategories() []string {
	return []string{CategoryIdentity, CategoryPreference, CategoryValues, CategoryProject, CategoryGoal}
}

// Memory is one persisted fact about the user or their work.
// UserID empty means global.
type Memory struct {
	ID           string
	UserID       string
	Category     string
	Content      string
	Tier         Tier
	Confidence   float64
	AccessCount  int
	LastAccessed time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Source       Source
	Embedding    []float32
}

// Scored pairs a memory with its decay-adjusted relevance.
type Scored struct {
	Memory Memory
	// Raw is the cosine similarity before adjustment.
	Raw float64
	// Score is raw × recency factor × confidence factor.
	Score float64
}

// EntityType classifies entities in the memory graph.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityProject      EntityType = "project"
	EntityTool         EntityType = "tool"
	EntityConcept      EntityType = "concept"
	EntityOrganization EntityType = "organization"
)

// Entity is a node in the bipartite memory↔entity graph.
type Entity struct {
	ID   string
	Name string
	Type EntityType
}

// EntityLink ties a memory to an entity with a relationship label.
type EntityLink struct {
	MemoryID     string
	EntityID     string
	Relationship string
}

// Settings govern automatic memory capture per user.
type Settings struct {
	UserID             string
	AutoSaveEnabled    bool
	AutoSaveCategories []string
	CoreCap            int
	UpdatedAt          time.Time
}

// Stats summarizes a user's memory footprint.
type Stats struct {
	ByTier        map[Tier]int
	Entities      int
	AvgConfidence float64
}

// UpdateFields names the mutable memory columns for Update. Nil fields
// are left untouched.
type UpdateFields struct {
	Content    *string
	Category   *string
	Tier       *Tier
	Confidence *float64
}

// ListFilter narrows List results. Zero values mean "any".
type ListFilter struct {
	UserID   string
	Tier     Tier
	Category string
	Source   Source
	Limit    int
}

// TaskRecord is a persisted pending task from an accepted plan.
type TaskRecord struct {
	ID          string
	ProjectID   string
	TaskType    string
	Description string
	AgentName   string
	DependsOn   []int
	Scope       string
	Status      string
	CreatedAt   time.Time
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func validateTier(t Tier) error {
	if !ValidTier(t) {
		return fmt.Errorf("invalid tier: %q (valid: core, long_term, episodic)", t)
	}
	return nil
}
