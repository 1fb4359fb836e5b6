package assistant

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marginalia-ai/marginalia/pkg/config"
	"github.com/marginalia-ai/marginalia/pkg/memory"
	"github.com/marginalia-ai/marginalia/pkg/retrieval"
	"github.com/marginalia-ai/marginalia/pkg/router"
)

func newTestAssistant(t *testing.T) *Assistant {
	t.Helper()

	cfg := &config.Config{
		Memory: config.MemoryConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(t.TempDir(), "assistant_test.db"),
		},
	}
	cfg.SetDefaults()

	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestHandleTurnDeterministicWithoutProviders(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	_, err := a.Memory().Add(ctx, "prefers plain prose", "preference", "u1",
		memory.SourceManual, memory.TierLongTerm, 0.9)
	require.NoError(t, err)

	result := a.HandleTurn(ctx, &router.Request{
		Message: "How many memories do you have about me?",
		UserID:  "u1",
	}, true)
	assert.Equal(t, router.HandledDeterministic, result.HandledBy)
	assert.Contains(t, result.Content, "1 stored memory")
	require.NotNil(t, result.Trace)
	assert.NotEmpty(t, result.Trace.TraceID)
}

func TestHandleTurnStripsTrace(t *testing.T) {
	a := newTestAssistant(t)

	result := a.HandleTurn(context.Background(), &router.Request{
		Message: "How many memories do you have about me?",
		UserID:  "u1",
	}, false)
	assert.Nil(t, result.Trace)
}

func TestHandleTurnDegradesWithoutProviders(t *testing.T) {
	a := newTestAssistant(t)

	// No LLM provider is configured, so the writer cannot run; the turn
	// degrades instead of failing.
	result := a.HandleTurn(context.Background(), &router.Request{
		Message: "write an essay about pollinators",
		UserID:  "u1",
	}, true)
	assert.Equal(t, router.HandledError, result.HandledBy)
	assert.NotEmpty(t, result.Content)
	assert.NotEmpty(t, result.Trace.Errors)
}

func TestIndexProject(t *testing.T) {
	a := newTestAssistant(t)

	n, err := a.IndexProject(context.Background(), "atlas", retrieval.Document{
		File: "notes.md",
		Chunks: []retrieval.DocumentChunk{
			{Text: "The migration starts with the ingest service.", Page: 1},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
