package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsDefaults(t *testing.T) {
	store := newTestStore(t)

	settings, err := store.GetSettings(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, settings.AutoSaveEnabled)
	assert.Equal(t, DefaultAutoSaveCategories(), settings.AutoSaveCategories)
	assert.Equal(t, 3, settings.CoreCap)
}

func TestSettingsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.UpdateSettings(ctx, &Settings{
		UserID:             "u1",
		AutoSaveEnabled:    false,
		AutoSaveCategories: []string{CategoryProject},
		CoreCap:            5,
	})
	require.NoError(t, err)

	settings, err := store.GetSettings(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, settings.AutoSaveEnabled)
	assert.Equal(t, []string{CategoryProject}, settings.AutoSaveCategories)
	assert.Equal(t, 5, settings.CoreCap)

	// Second write takes the update path.
	err = store.UpdateSettings(ctx, &Settings{
		UserID:             "u1",
		AutoSaveEnabled:    true,
		AutoSaveCategories: []string{CategoryGoal},
		CoreCap:            7,
	})
	require.NoError(t, err)

	settings, err = store.GetSettings(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, settings.AutoSaveEnabled)
	assert.Equal(t, 7, settings.CoreCap)
}

func TestSettingsRaiseCoreCap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.Equal(t, 3, store.CoreCap(ctx, "u1"))

	require.NoError(t, store.UpdateSettings(ctx, &Settings{
		UserID:          "u1",
		AutoSaveEnabled: true,
		CoreCap:         6,
	}))
	assert.Equal(t, 6, store.CoreCap(ctx, "u1"))
}

func TestEntityIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.AddEntity(ctx, "Dana", EntityPerson)
	require.NoError(t, err)
	second, err := store.AddEntity(ctx, "Dana", EntityPerson)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Same name, different type, is a distinct entity.
	project, err := store.AddEntity(ctx, "Dana", EntityProject)
	require.NoError(t, err)
	assert.NotEqual(t, first, project)
}

func TestByEntity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	memID, err := store.Add(ctx, "pairing with Dana on the atlas refactor", CategoryProject, "u1", SourceManual, TierLongTerm, 0.8)
	require.NoError(t, err)
	entityID, err := store.AddEntity(ctx, "Dana", EntityPerson)
	require.NoError(t, err)
	require.NoError(t, store.Link(ctx, memID, entityID, "collaborates_with"))
	require.NoError(t, store.Link(ctx, memID, entityID, "collaborates_with"), "repeat link is a no-op")

	memories, err := store.ByEntity(ctx, "Dana", "u1")
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, memID, memories[0].ID)

	none, err := store.ByEntity(ctx, "Nobody", "u1")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestProjectTasksRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tasks := []TaskRecord{
		{TaskType: "research", Description: "survey prior art", AgentName: "researcher", Scope: "project"},
		{TaskType: "write", Description: "draft the summary", AgentName: "writer", DependsOn: []int{0}, Scope: "project"},
	}
	require.NoError(t, store.SaveProjectTasks(ctx, "atlas", tasks))

	loaded, err := store.ListProjectTasks(ctx, "atlas")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "research", loaded[0].TaskType)
	assert.Equal(t, TaskStatusPending, loaded[0].Status)
	assert.Equal(t, []int{0}, loaded[1].DependsOn)

	// Saving again replaces pending tasks instead of appending.
	require.NoError(t, store.SaveProjectTasks(ctx, "atlas", tasks[:1]))
	loaded, err = store.ListProjectTasks(ctx, "atlas")
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}
