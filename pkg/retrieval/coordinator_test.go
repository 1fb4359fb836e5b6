package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marginalia-ai/marginalia/pkg/config"
	"github.com/marginalia-ai/marginalia/pkg/embedders"
	"github.com/marginalia-ai/marginalia/pkg/vector"
)

// fakeVectors serves canned, score-descending results per collection
// and records the topK values it was asked for.
type fakeVectors struct {
	results map[string][]vector.Result
	topKs   map[string][]int
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{
		results: make(map[string][]vector.Result),
		topKs:   make(map[string][]int),
	}
}

func (f *fakeVectors) Upsert(ctx context.Context, collection, id string, vec []float32, metadata map[string]any) error {
	content, _ := metadata["content"].(string)
	f.results[collection] = append(f.results[collection], vector.Result{
		ID: id, Content: content, Metadata: metadata,
	})
	return nil
}

func (f *fakeVectors) Search(ctx context.Context, collection string, vec []float32, topK int) ([]vector.Result, error) {
	f.topKs[collection] = append(f.topKs[collection], topK)
	results := f.results[collection]
	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (f *fakeVectors) SearchWithFilter(ctx context.Context, collection string, vec []float32, topK int, filter map[string]any) ([]vector.Result, error) {
	return f.Search(ctx, collection, vec, topK)
}

func (f *fakeVectors) Delete(ctx context.Context, collection, id string) error { return nil }

func (f *fakeVectors) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	file, _ := filter["file"].(string)
	kept := f.results[collection][:0]
	for _, r := range f.results[collection] {
		if rf, _ := r.Metadata["file"].(string); rf != file {
			kept = append(kept, r)
		}
	}
	f.results[collection] = kept
	return nil
}

func (f *fakeVectors) DeleteCollection(ctx context.Context, collection string) error {
	delete(f.results, collection)
	return nil
}

func (f *fakeVectors) Name() string { return "fake" }
func (f *fakeVectors) Close() error { return nil }

var _ vector.Provider = (*fakeVectors)(nil)

func testConfig() config.RetrievalConfig {
	cfg := config.RetrievalConfig{}
	cfg.SetDefaults()
	return cfg
}

func newTestCoordinator(t *testing.T, vectors vector.Provider) *Coordinator {
	t.Helper()
	embedder, err := embedders.NewLocalEmbedder(&config.EmbedderConfig{
		Type: "local", Model: "feature-hash-v1", Dimension: 64,
	})
	require.NoError(t, err)
	return NewCoordinator(embedder, vectors, testConfig())
}

func chunkResult(id, content, file string, score float32) vector.Result {
	return vector.Result{
		ID:      id,
		Score:   score,
		Content: content,
		Metadata: map[string]any{
			"content": content,
			"file":    file,
			"page":    "1",
		},
	}
}

func TestRetrieveNarrowSkipsLibrary(t *testing.T) {
	fake := newFakeVectors()
	fake.results["project_atlas"] = []vector.Result{
		chunkResult("c1", "atlas deployment runbook", "ops.md", 0.9),
	}
	fake.results["library"] = []vector.Result{
		chunkResult("l1", "general essay on deployments", "essays.pdf", 0.95),
	}
	coord := newTestCoordinator(t, fake)

	chunks, err := coord.Retrieve(context.Background(), "how do I deploy atlas", "atlas", []string{"code"})
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.Equal(t, OriginProject, chunks[0].Origin)
	assert.Empty(t, fake.topKs["library"], "narrow intents never touch the library")
	assert.Equal(t, []int{10}, fake.topKs["project_atlas"])
}

func TestRetrieveBroadIntentSet(t *testing.T) {
	for _, intentName := range []string{"research", "write", "summarize", "explain"} {
		t.Run(intentName, func(t *testing.T) {
			fake := newFakeVectors()
			fake.results["library"] = []vector.Result{
				chunkResult("l1", "survey of service architectures", "survey.pdf", 0.7),
			}
			coord := newTestCoordinator(t, fake)

			chunks, err := coord.Retrieve(context.Background(), "service architectures", "", []string{intentName})
			require.NoError(t, err)
			require.Len(t, chunks, 1)
			assert.Equal(t, OriginLibrary, chunks[0].Origin)
		})
	}
}

func TestRetrieveBroadSearchesLibrary(t *testing.T) {
	fake := newFakeVectors()
	fake.results["project_atlas"] = []vector.Result{
		chunkResult("c1", "atlas architecture overview", "design.md", 0.8),
	}
	fake.results["library"] = []vector.Result{
		chunkResult("l1", "survey of service architectures", "survey.pdf", 0.7),
		chunkResult("l2", "unrelated cooking notes", "recipes.md", 0.1),
	}
	coord := newTestCoordinator(t, fake)

	chunks, err := coord.Retrieve(context.Background(), "research service architectures", "atlas", []string{"research"})
	require.NoError(t, err)

	require.Len(t, chunks, 2)
	assert.Equal(t, OriginProject, chunks[0].Origin, "project chunks lead the merge")
	assert.Equal(t, OriginLibrary, chunks[1].Origin)
	assert.Equal(t, "l1", chunks[1].ID, "library hits below the score floor are dropped")
}

func TestRetrieveNoProjectNoBroad(t *testing.T) {
	coord := newTestCoordinator(t, newFakeVectors())

	chunks, err := coord.Retrieve(context.Background(), "hello", "", []string{"code"})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestRetrieveDiversifyCapsPerFile(t *testing.T) {
	fake := newFakeVectors()
	var results []vector.Result
	for i := 0; i < 12; i++ {
		results = append(results, chunkResult(
			fmt.Sprintf("big%d", i),
			fmt.Sprintf("dominant file passage %d", i),
			"dominant.md",
			float32(0.9)-float32(i)*0.01))
	}
	results = append(results, chunkResult("other", "passage from the other file", "other.md", 0.5))
	fake.results["project_atlas"] = results
	coord := newTestCoordinator(t, fake)

	chunks, err := coord.Retrieve(context.Background(), "research the project", "atlas", []string{"research"})
	require.NoError(t, err)

	perFile := make(map[string]int)
	for _, chunk := range chunks {
		perFile[chunk.File]++
	}
	assert.Equal(t, 5, perFile["dominant.md"], "one file cannot exceed the per-file cap")
	assert.Equal(t, 1, perFile["other.md"])
}

func TestRetrieveBroadWidensForManyFiles(t *testing.T) {
	fake := newFakeVectors()
	var results []vector.Result
	for i := 0; i < 60; i++ {
		results = append(results, chunkResult(
			fmt.Sprintf("c%d", i),
			fmt.Sprintf("passage %d", i),
			fmt.Sprintf("file%d.md", i%8),
			float32(0.9)-float32(i)*0.001))
	}
	fake.results["project_atlas"] = results
	coord := newTestCoordinator(t, fake)

	_, err := coord.Retrieve(context.Background(), "summarize everything", "atlas", []string{"summarize"})
	require.NoError(t, err)

	topKs := fake.topKs["project_atlas"]
	require.Len(t, topKs, 2, "eight distinct files widen the sweep past fifty")
	assert.Equal(t, 50, topKs[0])
	assert.Equal(t, 80, topKs[1])
}

func TestRetrieveDeduplicates(t *testing.T) {
	fake := newFakeVectors()
	fake.results["project_atlas"] = []vector.Result{
		chunkResult("c1", "The Atlas launch is planned for March.", "notes.md", 0.9),
	}
	fake.results["library"] = []vector.Result{
		chunkResult("l1", "the atlas   launch is planned for march.", "copy.md", 0.8),
	}
	coord := newTestCoordinator(t, fake)

	chunks, err := coord.Retrieve(context.Background(), "research the atlas launch", "atlas", []string{"research"})
	require.NoError(t, err)

	require.Len(t, chunks, 1, "whitespace and case differences still count as duplicates")
	assert.Equal(t, "c1", chunks[0].ID)
}

func TestRetrieveEnforcesOverallCap(t *testing.T) {
	fake := newFakeVectors()
	var results []vector.Result
	for i := 0; i < 40; i++ {
		results = append(results, chunkResult(
			fmt.Sprintf("c%d", i),
			fmt.Sprintf("unique passage number %d", i),
			fmt.Sprintf("file%d.md", i),
			0.9))
	}
	fake.results["project_atlas"] = results
	coord := newTestCoordinator(t, fake)

	chunks, err := coord.Retrieve(context.Background(), "research", "atlas", []string{"research"})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(chunks), 30)
}

func TestIndexReplacesExistingFile(t *testing.T) {
	fake := newFakeVectors()
	coord := newTestCoordinator(t, fake)
	ctx := context.Background()

	doc := Document{
		File: "notes.md",
		Chunks: []DocumentChunk{
			{Text: "first version of the notes", Page: 1},
			{Text: "more first-version notes", Page: 2},
		},
	}
	n, err := coord.IndexProject(ctx, "atlas", doc)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	updated := Document{
		File:   "notes.md",
		Chunks: []DocumentChunk{{Text: "rewritten notes", Page: 1}},
	}
	n, err = coord.IndexProject(ctx, "atlas", updated)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, fake.results["project_atlas"], 1, "re-indexing replaces the file's chunks")
}

func TestIndexRequiresFileName(t *testing.T) {
	coord := newTestCoordinator(t, newFakeVectors())

	_, err := coord.IndexLibrary(context.Background(), Document{Chunks: []DocumentChunk{{Text: "x"}}})
	assert.Error(t, err)
}
