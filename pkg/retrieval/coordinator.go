package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/marginalia-ai/marginalia/pkg/config"
	"github.com/marginalia-ai/marginalia/pkg/embedders"
	"github.com/marginalia-ai/marginalia/pkg/observability"
	"github.com/marginalia-ai/marginalia/pkg/vector"
)

// Chunk is one retrieved slice of a document, carrying enough metadata
// to cite it.
type Chunk struct {
	ID     string
	Text   string
	File   string
	Page   int
	Score  float64
	Origin Origin
}

// Origin says which corpus a chunk came from.
type Origin string

const (
	OriginProject Origin = "project"
	OriginLibrary Origin = "library"
)

// Intents that warrant a broad sweep over the corpus rather than a
// pinpoint lookup.
var broadIntents = map[string]bool{
	"research":  true,
	"write":     true,
	"summarize": true,
	"explain":   true,
}

// Coordinator runs retrieval for a turn: a deep, per-file-diversified
// search of the active project's collection, plus a shallow search of
// the shared library for broad intents. The two searches run
// concurrently; project chunks outrank library chunks in the merge.
type Coordinator struct {
	embedder embedders.Provider
	vectors  vector.Provider
	cfg      config.RetrievalConfig
}

func NewCoordinator(embedder embedders.Provider, vectors vector.Provider, cfg config.RetrievalConfig) *Coordinator {
	return &Coordinator{embedder: embedder, vectors: vectors, cfg: cfg}
}

// Retrieve gathers chunks for a query. projectID may be empty (no
// project search); the library is consulted only when an intent in the
// sequence is broad. Returns at most max_chunks results.
func (c *Coordinator) Retrieve(ctx context.Context, query, projectID string, intents []string) ([]Chunk, error) {
	ctx, span := observability.GetTracer("marginalia.retrieval").Start(ctx, observability.SpanRetrieval)
	defer span.End()

	broad := false
	for _, intent := range intents {
		if broadIntents[intent] {
			broad = true
			break
		}
	}
	span.SetAttributes(
		attribute.Bool("retrieval.broad", broad),
		attribute.String("retrieval.project", projectID),
	)

	queryVec, err := c.embedder.Embed(query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var (
		mu            sync.Mutex
		projectChunks []Chunk
		libraryChunks []Chunk
	)

	g, gctx := errgroup.WithContext(ctx)

	if projectID != "" {
		g.Go(func() error {
			chunks, err := c.searchProject(gctx, queryVec, projectID, broad)
			if err != nil {
				return err
			}
			mu.Lock()
			projectChunks = chunks
			mu.Unlock()
			return nil
		})
	}

	if broad {
		g.Go(func() error {
			chunks, err := c.searchLibrary(gctx, queryVec)
			if err != nil {
				return err
			}
			mu.Lock()
			libraryChunks = chunks
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := c.merge(projectChunks, libraryChunks)
	span.SetAttributes(attribute.Int("retrieval.chunks", len(merged)))
	return merged, nil
}

// searchProject sweeps the project collection. Broad intents fetch a
// large candidate set sized to the number of distinct files seen (ten
// per file, at least fifty), then diversify so no single file dominates.
func (c *Coordinator) searchProject(ctx context.Context, queryVec []float32, projectID string, broad bool) ([]Chunk, error) {
	collection := c.cfg.ProjectPrefix + projectID

	k := 10
	if broad {
		k = 50
	}
	results, err := c.vectors.Search(ctx, collection, queryVec, k)
	if err != nil {
		return nil, fmt.Errorf("project search failed: %w", err)
	}

	if broad {
		// Widen when the first sweep shows more files than fit in k.
		files := distinctFiles(results)
		if wanted := files * 10; wanted > k {
			widened, err := c.vectors.Search(ctx, collection, queryVec, wanted)
			if err != nil {
				slog.Warn("widened project search failed, keeping first sweep",
					"collection", collection, "error", err)
			} else {
				results = widened
			}
		}
	}

	chunks := toChunks(results, OriginProject)
	if broad {
		chunks = c.diversify(chunks)
	}
	return chunks, nil
}

func (c *Coordinator) searchLibrary(ctx context.Context, queryVec []float32) ([]Chunk, error) {
	results, err := c.vectors.Search(ctx, c.cfg.LibraryCollection, queryVec, c.cfg.LibraryK)
	if err != nil {
		return nil, fmt.Errorf("library search failed: %w", err)
	}

	chunks := make([]Chunk, 0, len(results))
	for _, chunk := range toChunks(results, OriginLibrary) {
		if chunk.Score >= c.cfg.LibraryMinScore {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

// diversify caps results per file, then re-sorts the survivors by score
// and truncates to the diversified cap.
func (c *Coordinator) diversify(chunks []Chunk) []Chunk {
	perFile := make(map[string]int)
	kept := make([]Chunk, 0, len(chunks))

	// Input arrives score-descending, so the per-file winners are kept.
	for _, chunk := range chunks {
		if perFile[chunk.File] >= c.cfg.PerFileCap {
			continue
		}
		perFile[chunk.File]++
		kept = append(kept, chunk)
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if len(kept) > c.cfg.DiversifiedCap {
		kept = kept[:c.cfg.DiversifiedCap]
	}
	return kept
}

// merge concatenates project chunks ahead of library chunks, drops
// near-duplicates, and enforces the overall cap. Two chunks are
// duplicates when their first two hundred characters match.
func (c *Coordinator) merge(project, library []Chunk) []Chunk {
	seen := make(map[string]bool)
	merged := make([]Chunk, 0, len(project)+len(library))

	for _, chunk := range append(project, library...) {
		key := dedupeKey(chunk.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, chunk)
		if len(merged) >= c.cfg.MaxChunks {
			break
		}
	}
	return merged
}

func dedupeKey(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	if len(normalized) > 200 {
		normalized = normalized[:200]
	}
	return normalized
}

func distinctFiles(results []vector.Result) int {
	files := make(map[string]bool)
	for _, r := range results {
		if file, ok := r.Metadata["file"].(string); ok && file != "" {
			files[file] = true
		}
	}
	return len(files)
}

func toChunks(results []vector.Result, origin Origin) []Chunk {
	chunks := make([]Chunk, 0, len(results))
	for _, r := range results {
		chunk := Chunk{
			ID:     r.ID,
			Text:   r.Content,
			Score:  float64(r.Score),
			Origin: origin,
		}
		if file, ok := r.Metadata["file"].(string); ok {
			chunk.File = file
		}
		if page, ok := r.Metadata["page"].(string); ok {
			fmt.Sscanf(page, "%d", &chunk.Page)
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}
