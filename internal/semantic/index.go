package semantic

import (
	"context"
	"fmt"
	"maps"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/repoindex/internal/embedder"
	"github.com/dshills/repoindex/internal/storage"
	"github.com/dshills/repoindex/pkg/types"
)

// DefaultBatchSize is the number of texts sent per embedding call
const DefaultBatchSize = embedder.DefaultBatchSize

// Index is the semantic side of a namespace: chunk vectors in the durable store
type Index struct {
	store     storage.Storage
	embedder  embedder.Embedder
	batchSize int
	logger    *zap.Logger
}

// Option configures an Index
type Option func(*Index)

// WithBatchSize sets the number of texts per embedding call
func WithBatchSize(n int) Option {
	return func(i *Index) {
		if n > 0 && n <= embedder.MaxBatchSize {
			i.batchSize = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(i *Index) {
		if l != nil {
			i.logger = l
		}
	}
}

// New creates a semantic index over store. The embedder's dimension must
// match the store's.
func New(store storage.Storage, emb embedder.Embedder, opts ...Option) (*Index, error) {
	if emb.Dimension() != store.Dimension() {
		return nil, fmt.Errorf("%w: embedder %s/%s produces %d dimensions, store holds %d",
			types.ErrConfiguration, emb.Provider(), emb.Model(), emb.Dimension(), store.Dimension())
	}

	idx := &Index{
		store:     store,
		embedder:  emb,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx, nil
}

// Embed turns documents into chunks of ns: each gets a fresh UUID, the
// namespace's repo_id and ref metadata, and its vector. No transaction is
// held while the embedding provider is called.
func (i *Index) Embed(ctx context.Context, ns *types.Namespace, docs []types.Document) ([]types.Chunk, error) {
	chunks := make([]types.Chunk, len(docs))
	for n, doc := range docs {
		meta := maps.Clone(doc.Metadata)
		if meta == nil {
			meta = make(map[string]any)
		}
		meta[types.MetaRepoID] = ns.RepoSlug
		meta[types.MetaRef] = ns.TrackingRef

		chunks[n] = types.Chunk{
			ID:          uuid.NewString(),
			NamespaceID: ns.ID,
			Source:      doc.Source,
			Content:     doc.Content,
			Metadata:    meta,
		}
	}

	for start := 0; start < len(chunks); start += i.batchSize {
		end := min(start+i.batchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}

		resp, err := i.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
		if err != nil {
			return nil, fmt.Errorf("%w: embedding batch %d-%d: %v", types.ErrIndexWrite, start, end, err)
		}
		if len(resp.Embeddings) != len(texts) {
			return nil, fmt.Errorf("%w: embedding batch %d-%d returned %d vectors",
				types.ErrIndexWrite, start, end, len(resp.Embeddings))
		}
		for n, emb := range resp.Embeddings {
			chunks[start+n].Vector = emb.Vector
		}
	}

	i.logger.Debug("embedded chunks",
		zap.Stringer("namespace", ns),
		zap.Int("chunks", len(chunks)))
	return chunks, nil
}

// Insert writes chunks inside the caller's transaction
func (i *Index) Insert(ctx context.Context, tx storage.Tx, chunks []types.Chunk) error {
	if err := tx.InsertChunks(ctx, chunks); err != nil {
		return fmt.Errorf("%w: %v", types.ErrIndexWrite, err)
	}
	return nil
}

// Search embeds query and returns the k nearest chunks within namespaceIDs
func (i *Index) Search(ctx context.Context, query string, k int, namespaceIDs []int64) ([]storage.ChunkHit, error) {
	if len(namespaceIDs) == 0 || k <= 0 {
		return nil, nil
	}
	emb, err := i.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return i.store.Nearest(ctx, emb.Vector, k, namespaceIDs)
}

// Dimension returns the vector size of the index
func (i *Index) Dimension() int {
	return i.store.Dimension()
}
