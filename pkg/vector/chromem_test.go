package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marginalia-ai/marginalia/pkg/config"
)

func newTestProvider(t *testing.T) *ChromemProvider {
	t.Helper()
	provider, err := NewChromemProvider(config.VectorConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })
	return provider
}

func unitVec(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestUpsertAndSearch(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.Upsert(ctx, "docs", "a", unitVec(4, 0), map[string]any{"content": "alpha", "file": "a.md"}))
	require.NoError(t, p.Upsert(ctx, "docs", "b", unitVec(4, 1), map[string]any{"content": "beta", "file": "b.md"}))

	results, err := p.Search(ctx, "docs", unitVec(4, 0), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "alpha", results[0].Content)
	assert.Equal(t, "a.md", results[0].Metadata["file"])
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchClampsTopK(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.Upsert(ctx, "docs", "only", unitVec(4, 2), map[string]any{"content": "solo"}))

	results, err := p.Search(ctx, "docs", unitVec(4, 2), 50)
	require.NoError(t, err)
	assert.Len(t, results, 1, "topK above document count is clamped, not an error")
}

func TestSearchEmptyCollection(t *testing.T) {
	p := newTestProvider(t)

	results, err := p.Search(context.Background(), "empty", unitVec(4, 0), 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchWithFilter(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.Upsert(ctx, "docs", "a1", unitVec(4, 0), map[string]any{"content": "first", "file": "a.md"}))
	require.NoError(t, p.Upsert(ctx, "docs", "b1", unitVec(4, 0), map[string]any{"content": "second", "file": "b.md"}))

	results, err := p.SearchWithFilter(ctx, "docs", unitVec(4, 0), 2, map[string]any{"file": "b.md"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b1", results[0].ID)
}

func TestDeleteByFilter(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.Upsert(ctx, "docs", "a1", unitVec(4, 0), map[string]any{"content": "first", "file": "a.md"}))
	require.NoError(t, p.Upsert(ctx, "docs", "a2", unitVec(4, 1), map[string]any{"content": "second", "file": "a.md"}))
	require.NoError(t, p.Upsert(ctx, "docs", "b1", unitVec(4, 2), map[string]any{"content": "third", "file": "b.md"}))

	require.NoError(t, p.DeleteByFilter(ctx, "docs", map[string]any{"file": "a.md"}))

	results, err := p.Search(ctx, "docs", unitVec(4, 2), 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b1", results[0].ID)
}

func TestDeleteSingleDocument(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.Upsert(ctx, "docs", "a", unitVec(4, 0), map[string]any{"content": "alpha"}))
	require.NoError(t, p.Delete(ctx, "docs", "a"))

	results, err := p.Search(ctx, "docs", unitVec(4, 0), 1)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDeleteCollection(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.Upsert(ctx, "docs", "a", unitVec(4, 0), map[string]any{"content": "alpha"}))
	require.NoError(t, p.DeleteCollection(ctx, "docs"))

	results, err := p.Search(ctx, "docs", unitVec(4, 0), 1)
	require.NoError(t, err)
	assert.Empty(t, results, "the collection is recreated empty")
}

func TestPersistAndReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewChromemProvider(config.VectorConfig{PersistPath: dir})
	require.NoError(t, err)
	require.NoError(t, first.Upsert(ctx, "docs", "a", unitVec(4, 0), map[string]any{"content": "alpha"}))
	require.NoError(t, first.Close())

	second, err := NewChromemProvider(config.VectorConfig{PersistPath: dir})
	require.NoError(t, err)
	defer second.Close()

	results, err := second.Search(ctx, "docs", unitVec(4, 0), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alpha", results[0].Content)
}
