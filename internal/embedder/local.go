package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// LocalProvider embeds text without a network call by hashing word and
// character-trigram features into a fixed-size vector. Texts sharing
// vocabulary land close together, which is enough for offline use and tests.
type LocalProvider struct {
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a hashing embedder of the given dimension
func NewLocalProvider(dimension int, cache *Cache) *LocalProvider {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{dimension: dimension, cache: cache}
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return embedSingle(ctx, l, req)
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings, err := cachedBatch(ctx, l.cache, string(KindLocal), DefaultLocalModel, l.dimension, req.Texts,
		func(ctx context.Context, texts []string) ([][]float32, error) {
			vectors := make([][]float32, len(texts))
			for i, text := range texts {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				vectors[i] = l.vectorize(text)
			}
			return vectors, nil
		})
	if err != nil {
		return nil, fmt.Errorf("local embedding: %w", err)
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   string(KindLocal),
		Model:      DefaultLocalModel,
	}, nil
}

// vectorize returns the unit-length feature hash of text
func (l *LocalProvider) vectorize(text string) []float32 {
	vector := make([]float32, l.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, w := range words {
		l.add(vector, "w:"+w, 1)
		runes := []rune(w)
		for i := 0; i+3 <= len(runes); i++ {
			l.add(vector, "t:"+string(runes[i:i+3]), 0.5)
		}
	}
	return NormalizeVector(vector)
}

// add hashes feature to a bucket and a sign so collisions tend to cancel
func (l *LocalProvider) add(vector []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(l.dimension))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vector[idx] += weight
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return string(KindLocal)
}

func (l *LocalProvider) Model() string {
	return DefaultLocalModel
}

func (l *LocalProvider) Close() error {
	return nil
}
