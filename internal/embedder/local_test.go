package embedder

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(0, NewCache(10))

	emb, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "parse the config file"})
	require.NoError(t, err)
	assert.Len(t, emb.Vector, LocalDimension)
	assert.Equal(t, "local", emb.Provider)
	assert.Equal(t, DefaultLocalModel, emb.Model)

	again, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "parse the config file"})
	require.NoError(t, err)
	assert.Equal(t, emb.Vector, again.Vector, "deterministic")

	_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{})
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestLocalProvider_SimilarTextsAreCloser(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(256, nil)

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{
		"retry the http request with exponential backoff",
		"exponential backoff for retrying http requests",
		"render the markdown table of contents",
	}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 3)

	related := cosine(resp.Embeddings[0].Vector, resp.Embeddings[1].Vector)
	unrelated := cosine(resp.Embeddings[0].Vector, resp.Embeddings[2].Vector)
	assert.Greater(t, related, unrelated)
	assert.InDelta(t, 1.0, cosine(resp.Embeddings[0].Vector, resp.Embeddings[0].Vector), 1e-6)
}

func TestLocalProvider_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocalProvider(8, nil).GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"a"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func BenchmarkLocalProvider(b *testing.B) {
	p := NewLocalProvider(LocalDimension, nil)
	text := "func (s *Server) handleRequest(ctx context.Context, req *Request) (*Response, error)"
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: fmt.Sprintf("%s %d", text, i)}); err != nil {
			b.Fatal(err)
		}
	}
}
