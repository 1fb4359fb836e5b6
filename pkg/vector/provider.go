package vector

import "context"

// Result is one similarity hit.
type Result struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]any
}

// Provider is the narrow vector-store surface the core consumes. All
// vectors are pre-computed by an embedders.Provider; stores never embed.
type Provider interface {
	Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error

	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)

	Delete(ctx context.Context, collection string, id string) error

	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error

	DeleteCollection(ctx context.Context, collection string) error

	Name() string

	Close() error
}
