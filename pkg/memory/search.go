package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/marginalia-ai/marginalia/pkg/observability"
)

// Search ranks a user's memories against a query by decay-adjusted
// similarity. The adjusted score is
//
//	cosine × 0.5^(age_days / half_life) × (0.4 + confidence × 1.2)
//
// with a 14-day half-life for episodic memories and 180 days for
// long_term. Core memories skip the recency factor entirely. Pass an
// empty tier to search all tiers.
func (s *Store) Search(ctx context.Context, query, userID string, tier Tier, limit int) ([]Scored, error) {
	ctx, span := observability.GetTracer("marginalia.memory").Start(ctx, observability.SpanMemorySearch)
	defer span.End()
	span.SetAttributes(attribute.String("memory.tier", string(tier)))

	queryVec, err := s.embedder.Embed(query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	candidates, err := s.List(ctx, ListFilter{UserID: userID, Tier: tier})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	scored := make([]Scored, 0, len(candidates))
	for _, m := range candidates {
		if len(m.Embedding) == 0 {
			continue
		}
		raw := cosineSimilarity(queryVec, m.Embedding)
		scored = append(scored, Scored{
			Memory: m,
			Raw:    raw,
			Score:  raw * s.recencyFactor(m, now) * confidenceFactor(m.Confidence),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	span.SetAttributes(attribute.Int("memory.results", len(scored)))
	return scored, nil
}

func (s *Store) recencyFactor(m Memory, now time.Time) float64 {
	var halfLife float64
	switch m.Tier {
	case TierCore:
		return 1.0
	case TierEpisodic:
		halfLife = float64(s.cfg.EpisodicHalfLifeDays)
	default:
		halfLife = float64(s.cfg.LongTermHalfLifeDays)
	}
	if halfLife <= 0 {
		return 1.0
	}

	reference := m.UpdatedAt
	if m.LastAccessed.After(reference) {
		reference = m.LastAccessed
	}
	ageDays := now.Sub(reference).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Pow(0.5, ageDays/halfLife)
}

// confidenceFactor maps confidence 0..1 onto 0.4..1.6 so low-confidence
// memories are dampened rather than eliminated.
func confidenceFactor(confidence float64) float64 {
	return 0.4 + confidence*1.2
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
