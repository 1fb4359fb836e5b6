package embedders

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/marginalia-ai/marginalia/pkg/config"
)

// LocalEmbedder is a deterministic feature-hash embedder: each token is
// hashed into a bucket with a hash-derived sign, and the resulting
// vector is L2-normalized. Quality is far below a learned model, but
// the output is byte-stable across workers, needs no network, and
// preserves enough lexical overlap for offline and test use.
type LocalEmbedder struct {
	model     string
	dimension int
}

func NewLocalEmbedder(cfg *config.EmbedderConfig) (*LocalEmbedder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive")
	}
	return &LocalEmbedder{model: cfg.Model, dimension: cfg.Dimension}, nil
}

func (e *LocalEmbedder) Embed(text string) ([]float32, error) {
	vec := make([]float32, e.dimension)

	for _, token := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()

		bucket := int(sum % uint64(e.dimension))
		sign := float32(1)
		if sum&(1<<63) != 0 {
			sign = -1
		}
		vec[bucket] += sign
	}

	normalize(vec)
	return vec, nil
}

func (e *LocalEmbedder) EmbedMany(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *LocalEmbedder) Dimension() int    { return e.dimension }
func (e *LocalEmbedder) ModelName() string { return e.model }
func (e *LocalEmbedder) Close() error      { return nil }

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
