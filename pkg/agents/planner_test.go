package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marginalia-ai/marginalia/pkg/llms/llmtest"
)

func TestPlannerProducesTasks(t *testing.T) {
	provider := llmtest.New(`{"tasks": [
		{"type": "research", "description": "survey fusion funding sources", "agent": "researcher", "scope": "project"},
		{"type": "write", "description": "draft the piece", "agent": "writer", "depends_on": [0], "scope": "project"},
		{"type": "review", "description": "fact-check against sources", "agent": "", "depends_on": [1], "scope": "project"}
	]}`)
	gateway, err := llmtest.Gateway(provider)
	require.NoError(t, err)
	store := newTestMemoryStore(t)

	output, err := NewPlanner(gateway, store).Run(context.Background(), &TurnInput{
		Message:   "plan a roadmap for the fusion piece",
		ProjectID: "fusion",
	})
	require.NoError(t, err)

	plan := output.Content.ProjectPlan
	require.NotNil(t, plan)
	assert.Empty(t, plan.ClarifyingQuestions)
	require.Len(t, plan.Tasks, 3)
	assert.Equal(t, []int{0}, plan.Tasks[1].DependsOn)
	assert.Equal(t, "draft", plan.Tasks[1].Type, "write folds into the draft task type")

	// Tasks for an active project are persisted.
	records, err := store.ListProjectTasks(context.Background(), "fusion")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "research", records[0].TaskType)
	assert.Equal(t, "writer", records[1].AgentName)
}

func TestPlannerAsksClarifyingQuestions(t *testing.T) {
	provider := llmtest.New(`{"clarifying_questions": ["What is the deadline?", "Who is the audience?"]}`)
	gateway, err := llmtest.Gateway(provider)
	require.NoError(t, err)
	store := newTestMemoryStore(t)

	output, err := NewPlanner(gateway, store).Run(context.Background(), &TurnInput{
		Message:   "plan the thing",
		ProjectID: "fusion",
	})
	require.NoError(t, err)

	plan := output.Content.ProjectPlan
	require.NotNil(t, plan)
	assert.Len(t, plan.ClarifyingQuestions, 2)
	assert.Empty(t, plan.Tasks)

	records, err := store.ListProjectTasks(context.Background(), "fusion")
	require.NoError(t, err)
	assert.Empty(t, records, "questions are not persisted as tasks")
}

func TestPlannerNoProjectSkipsPersistence(t *testing.T) {
	provider := llmtest.New(`{"tasks": [
		{"type": "research", "description": "a"},
		{"type": "write", "description": "b"},
		{"type": "review", "description": "c"}
	]}`)
	gateway, err := llmtest.Gateway(provider)
	require.NoError(t, err)
	store := newTestMemoryStore(t)

	_, err = NewPlanner(gateway, store).Run(context.Background(), &TurnInput{Message: "plan a roadmap"})
	require.NoError(t, err)

	records, err := store.ListProjectTasks(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParsePlanRejectsBadDependencies(t *testing.T) {
	_, err := parsePlan(`{"tasks": [{"type": "a", "description": "d", "depends_on": [5]}]}`)
	assert.Error(t, err, "dependency index out of range")

	_, err = parsePlan(`{"tasks": [{"type": "a", "description": "d", "depends_on": [0]}]}`)
	assert.Error(t, err, "self-dependency")

	_, err = parsePlan(`{}`)
	assert.Error(t, err, "empty plan")
}

func TestNormalizeTaskType(t *testing.T) {
	assert.Equal(t, "research", normalizeTaskType("research"))
	assert.Equal(t, "draft", normalizeTaskType("write"))
	assert.Equal(t, "revise", normalizeTaskType("Edit"))
	assert.Equal(t, "review", normalizeTaskType(" REVIEW "))
	assert.Equal(t, "draft", normalizeTaskType("code"))
}

func TestParsePlanQuestionsWinMixedShapes(t *testing.T) {
	plan, err := parsePlan(`{"clarifying_questions": ["q"], "tasks": [{"type": "a", "description": "d"}]}`)
	require.NoError(t, err)
	assert.Len(t, plan.ClarifyingQuestions, 1)
	assert.Empty(t, plan.Tasks)
}
