package retrieval

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Document is a source file split into page-tagged chunks for indexing.
type Document struct {
	File   string
	Chunks []DocumentChunk
}

// DocumentChunk is one ingestable slice of a document.
type DocumentChunk struct {
	Text string
	Page int
}

// IndexProject embeds and stores a document's chunks in the project's
// collection. Existing chunks for the same file are replaced so
// re-indexing an updated file does not accumulate stale text.
func (c *Coordinator) IndexProject(ctx context.Context, projectID string, doc Document) (int, error) {
	return c.index(ctx, c.cfg.ProjectPrefix+projectID, doc)
}

// IndexLibrary embeds and stores a document's chunks in the shared
// library collection.
func (c *Coordinator) IndexLibrary(ctx context.Context, doc Document) (int, error) {
	return c.index(ctx, c.cfg.LibraryCollection, doc)
}

func (c *Coordinator) index(ctx context.Context, collection string, doc Document) (int, error) {
	if doc.File == "" {
		return 0, fmt.Errorf("document file name is required")
	}
	if len(doc.Chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(doc.Chunks))
	for i, chunk := range doc.Chunks {
		texts[i] = chunk.Text
	}
	vectors, err := c.embedder.EmbedMany(texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed document: %w", err)
	}

	if err := c.vectors.DeleteByFilter(ctx, collection, map[string]any{"file": doc.File}); err != nil {
		return 0, fmt.Errorf("failed to clear previous index for %s: %w", doc.File, err)
	}

	for i, chunk := range doc.Chunks {
		metadata := map[string]any{
			"content": chunk.Text,
			"file":    doc.File,
			"page":    strconv.Itoa(chunk.Page),
		}
		if err := c.vectors.Upsert(ctx, collection, uuid.New().String(), vectors[i], metadata); err != nil {
			return i, fmt.Errorf("failed to store chunk %d of %s: %w", i, doc.File, err)
		}
	}
	return len(doc.Chunks), nil
}
