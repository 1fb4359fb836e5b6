package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoriesForContextIncludesAllCore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Add(ctx, fmt.Sprintf("core memory %d about cooking", i), CategoryIdentity, "u1", SourceManual, TierCore, 1.0)
		require.NoError(t, err)
	}

	selection, err := store.MemoriesForContext(ctx, "completely unrelated quantum physics question", "u1")
	require.NoError(t, err)
	assert.Len(t, selection.Core, 3, "core memories are injected regardless of relevance")
}

func TestMemoriesForContextThresholds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Add(ctx, "studies distributed consensus protocols like raft", CategoryProject, "u1", SourceManual, TierLongTerm, 1.0)
	require.NoError(t, err)
	_, err = store.Add(ctx, "owns a golden retriever named Biscuit", CategoryFact, "u1", SourceManual, TierLongTerm, 1.0)
	require.NoError(t, err)

	selection, err := store.MemoriesForContext(ctx, "explain raft distributed consensus", "u1")
	require.NoError(t, err)

	for _, hit := range selection.LongTerm {
		assert.GreaterOrEqual(t, hit.Score, 0.20)
	}
	for _, hit := range selection.Episodic {
		assert.GreaterOrEqual(t, hit.Score, 0.15)
	}
}

func TestMemoriesForContextRecordsAccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Add(ctx, "always answers with citations", CategoryPreference, "u1", SourceManual, TierCore, 1.0)
	require.NoError(t, err)

	_, err = store.MemoriesForContext(ctx, "anything at all", "u1")
	require.NoError(t, err)

	m, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, m.AccessCount)
	assert.False(t, m.LastAccessed.IsZero())
}

func TestMemoriesForContextCapKeepsCore(t *testing.T) {
	store := newTestStore(t)
	store.cfg.MaxContextMemories = 4
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Add(ctx, fmt.Sprintf("core rule %d: cite atlas sources", i), CategoryValues, "u1", SourceManual, TierCore, 1.0)
		require.NoError(t, err)
	}
	for i := 0; i < 6; i++ {
		_, err := store.Add(ctx, fmt.Sprintf("atlas source note %d about citations", i), CategoryProject, "u1", SourceManual, TierLongTerm, 1.0)
		require.NoError(t, err)
	}

	selection, err := store.MemoriesForContext(ctx, "atlas sources and citations", "u1")
	require.NoError(t, err)

	assert.Len(t, selection.Core, 3)
	total := len(selection.Core) + len(selection.LongTerm) + len(selection.Episodic)
	assert.LessOrEqual(t, total, 4)
}

func TestFormatForPrompt(t *testing.T) {
	selection := &ContextSelection{
		Core: []Memory{{Category: CategoryIdentity, Content: "is a science journalist"}},
		LongTerm: []Scored{
			{Memory: Memory{Category: CategoryProject, Content: "writing a piece on fusion startups"}},
		},
	}

	out := FormatForPrompt(selection)
	assert.True(t, strings.HasPrefix(out, "Always remember:"))
	assert.Contains(t, out, "- [identity] is a science journalist")
	assert.Contains(t, out, "Relevant context:")
	assert.Contains(t, out, "- [project] writing a piece on fusion startups")
}

func TestFormatForPromptEmpty(t *testing.T) {
	assert.Empty(t, FormatForPrompt(nil))
	assert.Empty(t, FormatForPrompt(&ContextSelection{}))
}
