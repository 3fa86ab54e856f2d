package storage

import (
	"context"
	"fmt"

	"github.com/dshills/repoindex/pkg/types"
)

// Storage is the durable semantic store: repositories, namespaces and the
// chunks of each namespace with their embedding vectors.
//
// Methods called on a Tx run inside that transaction. Callers holding a Tx
// must not call the parent Storage until the Tx is finished; the SQLite
// backend runs on a single connection and would block.
type Storage interface {
	// Repository operations
	UpsertRepository(ctx context.Context, repo *types.RepositoryRef) error
	GetRepository(ctx context.Context, id int64) (*types.RepositoryRef, error)
	GetRepositoryBySlug(ctx context.Context, slug string) (*types.RepositoryRef, error)
	ListRepositories(ctx context.Context) ([]*types.RepositoryRef, error)

	// Namespace operations

	// GetOrCreateNamespace returns the latest INDEXED namespace of the tracking
	// ref, or creates a PENDING one at headSHA. created reports which happened.
	GetOrCreateNamespace(ctx context.Context, repositoryID int64, trackingRef, headSHA string) (ns *types.Namespace, created bool, err error)
	// CreateNamespace always inserts a new PENDING namespace at headSHA
	CreateNamespace(ctx context.Context, repositoryID int64, trackingRef, headSHA string) (*types.Namespace, error)
	GetNamespace(ctx context.Context, id int64) (*types.Namespace, error)
	// LatestNamespace returns the most recently created INDEXED namespace or ErrNotFound
	LatestNamespace(ctx context.Context, repositoryID int64, trackingRef string) (*types.Namespace, error)
	// LatestNamespaces returns the latest INDEXED namespace of every (repository, ref) pair
	LatestNamespaces(ctx context.Context) ([]*types.Namespace, error)
	// ListNamespaces lists namespaces of a repository, newest first. An empty ref lists all refs.
	ListNamespaces(ctx context.Context, repositoryID int64, trackingRef string) ([]*types.Namespace, error)
	SetNamespaceStatus(ctx context.Context, id int64, status types.NamespaceStatus) error
	DeleteNamespace(ctx context.Context, id int64) error

	// Chunk operations
	InsertChunks(ctx context.Context, chunks []types.Chunk) error
	DeleteChunksBySource(ctx context.Context, namespaceID int64, sources []string) (int, error)
	// ListChunks returns the chunks of a namespace without their vectors
	ListChunks(ctx context.Context, namespaceID int64) ([]types.Chunk, error)
	ListSources(ctx context.Context, namespaceID int64) ([]string, error)
	CountChunks(ctx context.Context, namespaceID int64) (int, error)
	// ExistingChunkIDs reports which of ids are stored in one of namespaceIDs
	ExistingChunkIDs(ctx context.Context, ids []string, namespaceIDs []int64) (map[string]bool, error)

	// Search operations

	// Nearest returns the k chunks closest to vector by cosine similarity,
	// restricted to namespaceIDs. An empty filter matches nothing.
	Nearest(ctx context.Context, vector []float32, k int, namespaceIDs []int64) ([]ChunkHit, error)

	// Database operations
	Dimension() int
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// ChunkHit is a chunk returned by a nearest-neighbour search
type ChunkHit struct {
	Chunk    types.Chunk
	RepoSlug string
	Ref      string
	Score    float64 // Cosine similarity, higher is better
}

// Driver names accepted by Open
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures a backend
type Config struct {
	Driver    string // sqlite or postgres
	Path      string // SQLite database file
	DSN       string // PostgreSQL connection string
	Dimension int    // Embedding dimension; fixed for the life of the store
}

// Open opens the configured backend and applies pending migrations
func Open(ctx context.Context, cfg Config) (Storage, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive", types.ErrConfiguration)
	}

	switch cfg.Driver {
	case "", DriverSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("%w: sqlite storage requires a path", types.ErrConfiguration)
		}
		return NewSQLiteStorage(ctx, cfg.Path, cfg.Dimension)
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("%w: postgres storage requires a dsn", types.ErrConfiguration)
		}
		return NewPostgresStorage(ctx, cfg.DSN, cfg.Dimension)
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", types.ErrConfiguration, cfg.Driver)
	}
}

// validateChunks checks every chunk before a bulk write
func validateChunks(chunks []types.Chunk, dim int) error {
	for i := range chunks {
		c := &chunks[i]
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%w: %w", types.ErrIndexWrite, err)
		}
		if len(c.Vector) != dim {
			return fmt.Errorf("%w: chunk %s has vector dimension %d, store expects %d",
				types.ErrIndexWrite, c.ID, len(c.Vector), dim)
		}
	}
	return nil
}
