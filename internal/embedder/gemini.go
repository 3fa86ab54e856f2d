package embedder

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// GeminiProvider implements Embedder with the Gemini embedContent API
type GeminiProvider struct {
	client    *genai.Client
	model     string
	dimension int
	limiter   *rate.Limiter
	cache     *Cache
}

// NewGeminiProvider creates a Gemini embedder. dimension is requested from the
// API as the output dimensionality.
func NewGeminiProvider(ctx context.Context, apiKey, model string, dimension int, limiter *rate.Limiter, cache *Cache) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiProvider{
		client:    client,
		model:     model,
		dimension: dimension,
		limiter:   limiter,
		cache:     cache,
	}, nil
}

func (g *GeminiProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return embedSingle(ctx, g, req)
}

func (g *GeminiProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	embeddings, err := cachedBatch(ctx, g.cache, string(KindGemini), g.model, g.dimension, req.Texts,
		func(ctx context.Context, texts []string) ([][]float32, error) {
			vectors, err := retryWithBackoff(ctx, DefaultRetryConfig(), func() ([][]float32, error) {
				if err := waitLimiter(ctx, g.limiter); err != nil {
					return nil, err
				}
				return g.embed(ctx, texts)
			})
			if err != nil {
				return nil, fmt.Errorf("%w: gemini: %v", ErrProviderFailed, err)
			}
			return vectors, nil
		})
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   string(KindGemini),
		Model:      g.model,
	}, nil
}

func (g *GeminiProvider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: text}}}
	}

	dim := int32(g.dimension)
	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
		TaskType:             "RETRIEVAL_DOCUMENT",
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}

	vectors := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		vectors = append(vectors, e.Values)
	}
	return vectors, nil
}

func (g *GeminiProvider) Dimension() int {
	return g.dimension
}

func (g *GeminiProvider) Provider() string {
	return string(KindGemini)
}

func (g *GeminiProvider) Model() string {
	return g.model
}

func (g *GeminiProvider) Close() error {
	return nil
}
