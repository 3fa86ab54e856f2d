// Package embedder generates vector embeddings for chunks and queries.
//
// Providers are selected by a "<provider>/<model>" key:
//   - openai: OpenAI /embeddings (also any OpenAI-compatible server via BaseURL)
//   - jina: Jina AI /embeddings
//   - gemini: Gemini embedContent through google.golang.org/genai
//   - local: feature hashing, no network; for offline use and tests
//
// An unknown provider, a missing API key or a model of unknown dimension
// fails construction with types.ErrConfiguration.
//
// # Basic Usage
//
//	emb, err := embedder.New(ctx, embedder.Config{
//	    Model:             "openai/text-embedding-3-small",
//	    CacheSize:         10000,
//	    RequestsPerSecond: 5,
//	})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: []string{chunk1.Content, chunk2.Content},
//	})
//
// # Caching
//
// Embeddings are cached in an LRU keyed by the SHA-256 of model and text, so
// unchanged chunks are not re-embedded when a repository is indexed again.
//
// # Error Handling
//
// API calls are rate limited and retried with exponential backoff on network
// errors, 429 and 5xx responses. Other client errors fail at once.
package embedder
