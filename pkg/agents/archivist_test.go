package agents

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marginalia-ai/marginalia/pkg/llms/llmtest"
	"github.com/marginalia-ai/marginalia/pkg/memory"
)

func TestArchivistRememberFastPath(t *testing.T) {
	provider := llmtest.New("should never be called")
	gateway, err := llmtest.Gateway(provider)
	require.NoError(t, err)
	store := newTestMemoryStore(t)
	archivist := NewArchivist(gateway, store)
	ctx := context.Background()

	output, err := archivist.Run(ctx, &TurnInput{
		Message: "Remember that I prefer oat milk in coffee.",
		UserID:  "u1",
	})
	require.NoError(t, err)

	changes := output.Content.MemoryChanges
	require.NotNil(t, changes)
	require.Len(t, changes.Stored, 1)
	assert.Equal(t, "Got it, I'll remember that.", changes.Ack)
	assert.Zero(t, provider.CallCount(), "unambiguous commands skip the model")

	m, err := store.Get(ctx, changes.Stored[0])
	require.NoError(t, err)
	assert.Equal(t, "I prefer oat milk in coffee", m.Content)
	assert.Equal(t, memory.TierLongTerm, m.Tier)
	assert.Equal(t, memory.SourceManual, m.Source)
	assert.Equal(t, 0.8, m.Confidence)
}

func TestArchivistForgetFastPath(t *testing.T) {
	gateway, err := llmtest.Gateway(llmtest.New("unused"))
	require.NoError(t, err)
	store := newTestMemoryStore(t)
	archivist := NewArchivist(gateway, store)
	ctx := context.Background()

	id, err := store.Add(ctx, "I prefer oat milk in coffee", memory.CategoryPreference, "u1",
		memory.SourceManual, memory.TierLongTerm, 0.8)
	require.NoError(t, err)

	output, err := archivist.Run(ctx, &TurnInput{
		Message: "forget what I said about oat milk in coffee",
		UserID:  "u1",
	})
	require.NoError(t, err)

	changes := output.Content.MemoryChanges
	require.Len(t, changes.Forgotten, 1)
	assert.Equal(t, id, changes.Forgotten[0])

	m, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestArchivistForgetNoConfidentMatch(t *testing.T) {
	gateway, err := llmtest.Gateway(llmtest.New("unused"))
	require.NoError(t, err)
	store := newTestMemoryStore(t)
	archivist := NewArchivist(gateway, store)
	ctx := context.Background()

	_, err = store.Add(ctx, "works at the botanical garden", memory.CategoryFact, "u1",
		memory.SourceManual, memory.TierLongTerm, 0.8)
	require.NoError(t, err)

	output, err := archivist.Run(ctx, &TurnInput{
		Message: "forget about quantum flux capacitor calibration",
		UserID:  "u1",
	})
	require.NoError(t, err)

	changes := output.Content.MemoryChanges
	assert.Empty(t, changes.Forgotten, "a weak match is never deleted")
	assert.Contains(t, changes.Ack, "couldn't find")
}

func TestArchivistLLMOps(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	oldID, err := store.Add(ctx, "learning Spanish", memory.CategoryGoal, "u1",
		memory.SourceManual, memory.TierLongTerm, 0.6)
	require.NoError(t, err)

	provider := llmtest.New(fmt.Sprintf(`{
		"stores": [{"content": "training for a marathon", "category": "goal", "tier": "long_term", "confidence": 0.7}],
		"updates": [{"id": %q, "content": "learning Spanish, now at B1 level", "confidence": 0.9}],
		"forgets": [{"id": "no-such-id"}]
	}`, oldID))
	gateway, err := llmtest.Gateway(provider)
	require.NoError(t, err)
	archivist := NewArchivist(gateway, store)

	output, err := archivist.Run(ctx, &TurnInput{
		Message: "update my memory about my goals: I reached B1 in Spanish and started marathon training",
		UserID:  "u1",
	})
	require.NoError(t, err)

	changes := output.Content.MemoryChanges
	assert.Len(t, changes.Stored, 1)
	assert.Equal(t, []string{oldID}, changes.Updated)
	assert.Empty(t, changes.Forgotten, "unknown ids are skipped, not fatal")
	assert.Contains(t, changes.Ack, "Got it")

	updated, err := store.Get(ctx, oldID)
	require.NoError(t, err)
	assert.Equal(t, "learning Spanish, now at B1 level", updated.Content)
	assert.Equal(t, 0.9, updated.Confidence)
}

func TestArchivistConsolidation(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	id1, err := store.Add(ctx, "likes hiking", memory.CategoryPreference, "u1",
		memory.SourceAuto, memory.TierEpisodic, 0.6)
	require.NoError(t, err)
	id2, err := store.Add(ctx, "hiked every weekend in July", memory.CategoryPreference, "u1",
		memory.SourceAuto, memory.TierEpisodic, 0.6)
	require.NoError(t, err)

	provider := llmtest.New(fmt.Sprintf(`{
		"consolidations": [{"merged_content": "hikes regularly", "category": "preference", "source_ids": [%q, %q]}]
	}`, id1, id2))
	gateway, err := llmtest.Gateway(provider)
	require.NoError(t, err)

	output, err := NewArchivist(gateway, store).Run(ctx, &TurnInput{
		Message: "tidy up my memories about hiking",
		UserID:  "u1",
	})
	require.NoError(t, err)

	changes := output.Content.MemoryChanges
	require.Len(t, changes.Consolidated, 1)

	for _, id := range []string{id1, id2} {
		m, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, m)
	}
}

func TestArchivistConsolidationSkipsForeignSources(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	mine, err := store.Add(ctx, "likes hiking", memory.CategoryPreference, "u1",
		memory.SourceAuto, memory.TierEpisodic, 0.6)
	require.NoError(t, err)
	theirs, err := store.Add(ctx, "likes long hikes", memory.CategoryPreference, "u2",
		memory.SourceAuto, memory.TierEpisodic, 0.6)
	require.NoError(t, err)

	provider := llmtest.New(fmt.Sprintf(`{
		"consolidations": [{"merged_content": "hikes a lot", "category": "preference", "source_ids": [%q, %q]}]
	}`, mine, theirs))
	gateway, err := llmtest.Gateway(provider)
	require.NoError(t, err)

	output, err := NewArchivist(gateway, store).Run(ctx, &TurnInput{
		Message: "tidy up my hiking memories",
		UserID:  "u1",
	})
	require.NoError(t, err)

	changes := output.Content.MemoryChanges
	assert.Empty(t, changes.Consolidated, "a group touching another user's memory is skipped whole")

	for _, id := range []string{mine, theirs} {
		m, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, m, "skipped groups leave sources intact")
	}
}

func TestArchivistHeuristicCaptureWhenModelDown(t *testing.T) {
	gateway, err := llmtest.Gateway(llmtest.NewError(errors.New("upstream down")))
	require.NoError(t, err)
	store := newTestMemoryStore(t)
	archivist := NewArchivist(gateway, store)
	ctx := context.Background()

	output, err := archivist.Run(ctx, &TurnInput{
		Message: "My name is Ada and I work as a cartographer",
		UserID:  "u1",
	})
	require.NoError(t, err)

	changes := output.Content.MemoryChanges
	require.Len(t, changes.Stored, 1)

	m, err := store.Get(ctx, changes.Stored[0])
	require.NoError(t, err)
	assert.Equal(t, memory.CategoryIdentity, m.Category)
	assert.Equal(t, memory.TierLongTerm, m.Tier)

	// Anything subtler is declined rather than guessed at.
	_, err = archivist.Run(ctx, &TurnInput{
		Message: "update my memory about the atlas project",
		UserID:  "u1",
	})
	assert.Error(t, err)
}

func TestAutoCaptureHonorsSettings(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	provider := llmtest.New(`{"memories": [
		{"content": "is training for a marathon", "category": "goal"},
		{"content": "had pasta for lunch", "category": "fact"}
	]}`)
	gateway, err := llmtest.Gateway(provider)
	require.NoError(t, err)
	archivist := NewArchivist(gateway, store)

	stored := archivist.AutoCapture(ctx, "u1", "I started marathon training", "Great goal!")
	require.Len(t, stored, 1, "fact is outside the default auto-save categories")

	m, err := store.Get(ctx, stored[0])
	require.NoError(t, err)
	assert.Equal(t, memory.SourceAuto, m.Source)
	assert.Equal(t, memory.TierEpisodic, m.Tier)

	// Disabled auto-save stores nothing.
	require.NoError(t, store.UpdateSettings(ctx, &memory.Settings{
		UserID: "u2", AutoSaveEnabled: false,
	}))
	assert.Empty(t, archivist.AutoCapture(ctx, "u2", "I love sailing", "Noted"))
}
