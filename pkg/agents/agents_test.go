package agents

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marginalia-ai/marginalia/pkg/config"
	"github.com/marginalia-ai/marginalia/pkg/embedders"
	"github.com/marginalia-ai/marginalia/pkg/intent"
	"github.com/marginalia-ai/marginalia/pkg/llms/llmtest"
	"github.com/marginalia-ai/marginalia/pkg/memory"
	"github.com/marginalia-ai/marginalia/pkg/retrieval"
)

func newTestMemoryStore(t *testing.T) *memory.Store {
	t.Helper()
	embedder, err := embedders.NewLocalEmbedder(&config.EmbedderConfig{
		Type: "local", Model: "feature-hash-v1", Dimension: 64,
	})
	require.NoError(t, err)

	cfg := config.MemoryConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "memory.db")}
	cfg.SetDefaults()

	store, err := memory.NewStoreFromConfig(cfg, embedder)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testChunks() []retrieval.Chunk {
	return []retrieval.Chunk{
		{ID: "c1", Text: "Fusion startups raised $6B in 2025.", File: "funding.pdf", Page: 12, Origin: retrieval.OriginProject},
		{ID: "c2", Text: "Tokamak designs dominate private ventures.", File: "designs.md", Page: 0, Origin: retrieval.OriginProject},
	}
}

func TestResearcherParsesFindings(t *testing.T) {
	provider := llmtest.New(`{
		"summary": "Private fusion funding is accelerating.",
		"findings": [
			{"claim": "Funding reached $6B in 2025", "source": 1, "quote": "raised $6B in 2025", "confidence": 0.9},
			{"claim": "Tokamaks dominate", "source": 2, "quote": "Tokamak designs dominate", "confidence": 1.4}
		]
	}`)
	gateway, err := llmtest.Gateway(provider)
	require.NoError(t, err)

	researcher := NewResearcher(gateway)
	output, err := researcher.Run(context.Background(), &TurnInput{
		Message: "research private fusion funding",
		Chunks:  testChunks(),
	})
	require.NoError(t, err)

	assert.False(t, output.IsFinal, "research notes feed later agents")
	notes := output.Content.ResearchNotes
	require.NotNil(t, notes)
	assert.Equal(t, "Private fusion funding is accelerating.", notes.Summary)
	require.Len(t, notes.Findings, 2)
	assert.Equal(t, "funding.pdf", notes.Findings[0].File)
	assert.Equal(t, 12, notes.Findings[0].Page)
	assert.Equal(t, 1.0, notes.Findings[1].Confidence, "confidence is clamped to 1")

	require.Len(t, output.Citations, 2)
	assert.Equal(t, "funding.pdf", output.Citations[0].File)
}

func TestResearcherUnparseableReplyDegrades(t *testing.T) {
	provider := llmtest.New("The sources discuss fusion funding trends at length.")
	gateway, err := llmtest.Gateway(provider)
	require.NoError(t, err)

	output, err := NewResearcher(gateway).Run(context.Background(), &TurnInput{
		Message: "research", Chunks: testChunks(),
	})
	require.NoError(t, err)
	require.NotNil(t, output.Content.ResearchNotes)
	assert.Contains(t, output.Content.ResearchNotes.Summary, "fusion funding trends")
	assert.Empty(t, output.Content.ResearchNotes.Findings)
}

func TestResearcherIgnoresOutOfRangeSource(t *testing.T) {
	provider := llmtest.New(`{"summary": "s", "findings": [{"claim": "c", "source": 9, "quote": "q", "confidence": 0.5}]}`)
	gateway, err := llmtest.Gateway(provider)
	require.NoError(t, err)

	output, err := NewResearcher(gateway).Run(context.Background(), &TurnInput{
		Message: "research", Chunks: testChunks(),
	})
	require.NoError(t, err)
	require.Len(t, output.Content.ResearchNotes.Findings, 1)
	assert.Empty(t, output.Content.ResearchNotes.Findings[0].File)
	assert.Empty(t, output.Citations)
}

func TestWriterDetectsForm(t *testing.T) {
	assert.Equal(t, formDraft, detectForm("write an email to the board"))
	assert.Equal(t, formArticle, detectForm("I need an essay on beekeeping"))
	assert.Equal(t, formArticle, detectForm("draft a blog post about Go generics"))
	assert.Equal(t, formBrief, detectForm("prepare a report on Q3"))
	assert.Equal(t, formSummary, detectForm("summarize the meeting notes"))
	assert.Equal(t, formOutline, detectForm("give me an outline for the talk"))
	assert.Equal(t, formStandard, detectForm("tell me about bees"))
}

func TestWriterKeepsMarkersAsCitations(t *testing.T) {
	provider := llmtest.New("Funding is accelerating [1], led by tokamak ventures [2]. Again, [1] matters.")
	gateway, err := llmtest.Gateway(provider)
	require.NoError(t, err)

	notes := &ResearchNotes{
		Summary: "s",
		Findings: []Finding{
			{Claim: "Funding reached $6B", File: "funding.pdf", Page: 12, Quote: "raised $6B"},
			{Claim: "Tokamaks dominate", File: "designs.md"},
		},
	}
	output, err := NewWriter(gateway).Run(context.Background(), &TurnInput{
		Message:      "write an essay on fusion",
		PriorOutputs: []*Output{{Agent: "researcher", Content: Content{ResearchNotes: notes}}},
	})
	require.NoError(t, err)

	assert.True(t, output.IsFinal)
	require.Len(t, output.Citations, 2, "repeated markers are cited once")
	assert.Equal(t, "funding.pdf", output.Citations[0].File)
	assert.Equal(t, "designs.md", output.Citations[1].File)
}

func TestWriterMarkersResolveAgainstChunksWithoutNotes(t *testing.T) {
	provider := llmtest.New("As the project notes say [2], tokamaks dominate.")
	gateway, err := llmtest.Gateway(provider)
	require.NoError(t, err)

	output, err := NewWriter(gateway).Run(context.Background(), &TurnInput{
		Message: "explain the design landscape",
		Chunks:  testChunks(),
	})
	require.NoError(t, err)
	require.Len(t, output.Citations, 1)
	assert.Equal(t, "designs.md", output.Citations[0].File)
}

func TestEngineerParsesArtifacts(t *testing.T) {
	provider := llmtest.New("Here is the parser.\n\nparser/csv.py\n```python\nimport csv\n\ndef parse(path):\n    pass\n```\n\nAnd a quick test:\n\n```python\nassert parse\n```\nDone.")
	gateway, err := llmtest.Gateway(provider)
	require.NoError(t, err)

	output, err := NewEngineer(gateway).Run(context.Background(), &TurnInput{
		Message: "write a function that parses CSV",
	})
	require.NoError(t, err)

	artifacts := output.Content.CodeArtifacts
	require.NotNil(t, artifacts)
	require.Len(t, artifacts.Artifacts, 2)
	assert.Equal(t, "parser/csv.py", artifacts.Artifacts[0].Filename)
	assert.Equal(t, "python", artifacts.Artifacts[0].Language)
	assert.Contains(t, artifacts.Artifacts[0].Code, "def parse(path):")
	assert.Empty(t, artifacts.Artifacts[1].Filename)
	assert.Contains(t, artifacts.Explanation, "Here is the parser.")
	assert.NotContains(t, artifacts.Explanation, "parser/csv.py", "the filename line belongs to the artifact")
	assert.Contains(t, artifacts.Explanation, "Done.")
}

func TestEngineerNoFences(t *testing.T) {
	provider := llmtest.New("You can fix this by bumping the dependency version.")
	gateway, err := llmtest.Gateway(provider)
	require.NoError(t, err)

	output, err := NewEngineer(gateway).Run(context.Background(), &TurnInput{Message: "fix the bug"})
	require.NoError(t, err)
	assert.Empty(t, output.Content.CodeArtifacts.Artifacts)
	assert.Contains(t, output.Content.CodeArtifacts.Explanation, "bumping the dependency")
}

func TestAgentIntentRouting(t *testing.T) {
	gateway, err := llmtest.Gateway(llmtest.New("x"))
	require.NoError(t, err)
	store := newTestMemoryStore(t)

	assert.True(t, NewResearcher(gateway).CanHandle(intent.IntentResearch))
	assert.False(t, NewResearcher(gateway).CanHandle(intent.IntentCode))
	assert.True(t, NewWriter(gateway).CanHandle(intent.IntentExplain))
	assert.True(t, NewEngineer(gateway).CanHandle(intent.IntentCode))
	assert.False(t, NewEngineer(gateway).CanHandle(intent.IntentWrite))
	assert.True(t, NewPlanner(gateway, store).CanHandle(intent.IntentPlan))
	assert.True(t, NewArchivist(gateway, store).CanHandle(intent.IntentMemory))
}
