package embedders

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marginalia-ai/marginalia/pkg/config"
)

func newLocal(t *testing.T, dim int) *LocalEmbedder {
	t.Helper()
	embedder, err := NewLocalEmbedder(&config.EmbedderConfig{Model: "feature-hash-v1", Dimension: dim})
	require.NoError(t, err)
	return embedder
}

func TestLocalEmbedDeterministic(t *testing.T) {
	embedder := newLocal(t, 64)

	a, err := embedder.Embed("the covenant of works")
	require.NoError(t, err)
	b, err := embedder.Embed("the covenant of works")
	require.NoError(t, err)
	assert.Equal(t, a, b, "identical input yields byte-identical vectors")
}

func TestLocalEmbedDimensionAndNorm(t *testing.T) {
	embedder := newLocal(t, 128)

	vec, err := embedder.Embed("a phrase with several distinct tokens")
	require.NoError(t, err)
	require.Len(t, vec, 128)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5, "vectors are L2-normalized")
}

func TestLocalEmbedSimilarTextsCloser(t *testing.T) {
	embedder := newLocal(t, 256)

	query, err := embedder.Embed("battery chemistry research")
	require.NoError(t, err)
	near, err := embedder.Embed("recent research on battery chemistry")
	require.NoError(t, err)
	far, err := embedder.Embed("medieval cathedral architecture")
	require.NoError(t, err)

	assert.Greater(t, dot(query, near), dot(query, far),
		"lexical overlap survives the hashing")
}

func TestLocalEmbedEmptyText(t *testing.T) {
	embedder := newLocal(t, 32)

	vec, err := embedder.Embed("")
	require.NoError(t, err)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestLocalEmbedMany(t *testing.T) {
	embedder := newLocal(t, 64)

	vecs, err := embedder.EmbedMany([]string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	single, err := embedder.Embed("two")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[1])
}

func TestRegistryCreateFromConfig(t *testing.T) {
	registry := NewRegistry()

	provider, err := registry.CreateFromConfig("default", &config.EmbedderConfig{
		Type: "local", Model: "feature-hash-v1", Dimension: 64,
	})
	require.NoError(t, err)
	assert.Equal(t, 64, provider.Dimension())

	got, ok := registry.Get("default")
	require.True(t, ok)
	assert.Equal(t, provider, got)

	_, err = registry.CreateFromConfig("bad", &config.EmbedderConfig{Type: "quantum", Dimension: 8})
	assert.Error(t, err)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
