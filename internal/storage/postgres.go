package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/dshills/repoindex/pkg/types"
)

// pgUniqueViolation is the SQLSTATE of a unique constraint violation
const pgUniqueViolation = "23505"

// PostgresStorage implements the Storage interface on PostgreSQL with pgvector.
// Chunk vectors carry an HNSW index, and namespaces write concurrently under
// row-level locking.
type PostgresStorage struct {
	pgOps
	db *sqlx.DB
}

// NewPostgresStorage connects to PostgreSQL and applies pending migrations
func NewPostgresStorage(ctx context.Context, dsn string, dim int) (*PostgresStorage, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := ApplyMigrations(ctx, db, PostgresMigrations(dim), pgBind); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	if err := checkDimension(ctx, db, dim, pgBind); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &PostgresStorage{pgOps: pgOps{q: db, dim: dim}, db: db}, nil
}

// pgBind rewrites '?' placeholders to $n
func pgBind(query string) string {
	return sqlx.Rebind(sqlx.DOLLAR, query)
}

// Close closes the connection pool
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *PostgresStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &pgTx{pgOps: pgOps{q: tx, dim: s.dim}, tx: tx}, nil
}

// GetOrCreateNamespace runs the lookup and the insert in one transaction
func (s *PostgresStorage) GetOrCreateNamespace(ctx context.Context, repositoryID int64, trackingRef, headSHA string) (*types.Namespace, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	ops := pgOps{q: tx, dim: s.dim}
	ns, created, err := ops.GetOrCreateNamespace(ctx, repositoryID, trackingRef, headSHA)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit namespace: %w", err)
	}
	return ns, created, nil
}

// pgTx wraps a sqlx transaction
type pgTx struct {
	pgOps
	tx *sqlx.Tx
}

func (t *pgTx) Commit() error {
	return t.tx.Commit()
}

func (t *pgTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *pgTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, ErrNestedTx
}

func (t *pgTx) Close() error {
	return t.tx.Rollback()
}

// Row types

type repositoryRow struct {
	ID            int64  `db:"id"`
	ExternalID    string `db:"external_id"`
	Slug          string `db:"external_slug"`
	ClientKind    string `db:"client_kind"`
	DefaultBranch string `db:"default_branch"`
}

func (r repositoryRow) toRef() *types.RepositoryRef {
	return &types.RepositoryRef{
		ID:            r.ID,
		ExternalID:    r.ExternalID,
		Slug:          r.Slug,
		ClientKind:    types.ClientKind(r.ClientKind),
		DefaultBranch: r.DefaultBranch,
	}
}

type namespaceRow struct {
	ID           int64     `db:"id"`
	RepositoryID int64     `db:"repository_id"`
	RepoSlug     string    `db:"external_slug"`
	SHA          string    `db:"sha"`
	TrackingRef  string    `db:"tracking_ref"`
	Status       string    `db:"status"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r namespaceRow) toNamespace() *types.Namespace {
	return &types.Namespace{
		ID:           r.ID,
		RepositoryID: r.RepositoryID,
		RepoSlug:     r.RepoSlug,
		SHA:          r.SHA,
		TrackingRef:  r.TrackingRef,
		Status:       types.NamespaceStatus(r.Status),
		CreatedAt:    r.CreatedAt,
	}
}

type chunkRow struct {
	ID          string  `db:"id"`
	NamespaceID int64   `db:"namespace_id"`
	Source      string  `db:"source_path"`
	Content     string  `db:"content_text"`
	Metadata    string  `db:"metadata_json"`
	RepoSlug    string  `db:"external_slug"`
	Ref         string  `db:"tracking_ref"`
	Score       float64 `db:"score"`
}

func (r chunkRow) toChunk() (types.Chunk, error) {
	meta, err := decodeMetadata(r.Metadata)
	if err != nil {
		return types.Chunk{}, err
	}
	return types.Chunk{
		ID:          r.ID,
		NamespaceID: r.NamespaceID,
		Source:      r.Source,
		Content:     r.Content,
		Metadata:    meta,
	}, nil
}

// pgOps holds the operations shared by the pool and its transactions
type pgOps struct {
	q   sqlx.ExtContext
	dim int
}

// Dimension returns the embedding dimension of the store
func (o pgOps) Dimension() int {
	return o.dim
}

// Repository operations

// UpsertRepository inserts or updates a repository keyed by client kind and external id
func (o pgOps) UpsertRepository(ctx context.Context, repo *types.RepositoryRef) error {
	query := o.q.Rebind(`
		INSERT INTO repositories (external_id, external_slug, client_kind, default_branch)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (client_kind, external_id) DO UPDATE SET
			external_slug = EXCLUDED.external_slug,
			default_branch = EXCLUDED.default_branch,
			updated_at = now()
		RETURNING id
	`)
	if err := sqlx.GetContext(ctx, o.q, &repo.ID, query,
		repo.ExternalID, repo.Slug, string(repo.ClientKind), repo.DefaultBranch); err != nil {
		return fmt.Errorf("failed to upsert repository %s: %w", repo.Slug, err)
	}
	return nil
}

// GetRepository retrieves a repository by its id
func (o pgOps) GetRepository(ctx context.Context, id int64) (*types.RepositoryRef, error) {
	var row repositoryRow
	err := sqlx.GetContext(ctx, o.q, &row, o.q.Rebind(`SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return row.toRef(), nil
}

// GetRepositoryBySlug retrieves a repository by its slug
func (o pgOps) GetRepositoryBySlug(ctx context.Context, slug string) (*types.RepositoryRef, error) {
	var row repositoryRow
	err := sqlx.GetContext(ctx, o.q, &row,
		o.q.Rebind(`SELECT `+repositoryColumns+` FROM repositories WHERE external_slug = ? ORDER BY id LIMIT 1`), slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository %q: %w", slug, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return row.toRef(), nil
}

// ListRepositories lists every known repository ordered by slug
func (o pgOps) ListRepositories(ctx context.Context) ([]*types.RepositoryRef, error) {
	var rows []repositoryRow
	if err := sqlx.SelectContext(ctx, o.q, &rows, `SELECT `+repositoryColumns+` FROM repositories ORDER BY external_slug`); err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	repos := make([]*types.RepositoryRef, len(rows))
	for i, r := range rows {
		repos[i] = r.toRef()
	}
	return repos, nil
}

// Namespace operations

// GetOrCreateNamespace returns the latest INDEXED namespace or inserts a PENDING one.
// The repository row is locked so concurrent callers for one repository serialize.
func (o pgOps) GetOrCreateNamespace(ctx context.Context, repositoryID int64, trackingRef, headSHA string) (*types.Namespace, bool, error) {
	var locked int64
	err := sqlx.GetContext(ctx, o.q, &locked, o.q.Rebind(`SELECT id FROM repositories WHERE id = ? FOR UPDATE`), repositoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("repository %d: %w", repositoryID, types.ErrNotFound)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock repository: %w", err)
	}

	ns, err := o.LatestNamespace(ctx, repositoryID, trackingRef)
	if err == nil {
		return ns, false, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, false, err
	}

	ns, err = o.CreateNamespace(ctx, repositoryID, trackingRef, headSHA)
	if err != nil {
		return nil, false, err
	}
	return ns, true, nil
}

// CreateNamespace inserts a PENDING namespace
func (o pgOps) CreateNamespace(ctx context.Context, repositoryID int64, trackingRef, headSHA string) (*types.Namespace, error) {
	var id int64
	err := sqlx.GetContext(ctx, o.q, &id, o.q.Rebind(`
		INSERT INTO namespaces (repository_id, sha, tracking_ref, status)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`), repositoryID, headSHA, trackingRef, string(types.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to create namespace: %w", err)
	}
	return o.GetNamespace(ctx, id)
}

// GetNamespace retrieves a namespace by id
func (o pgOps) GetNamespace(ctx context.Context, id int64) (*types.Namespace, error) {
	var row namespaceRow
	err := sqlx.GetContext(ctx, o.q, &row, o.q.Rebind(namespaceSelect+` WHERE n.id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("namespace %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get namespace: %w", err)
	}
	return row.toNamespace(), nil
}

// LatestNamespace returns the most recently created INDEXED namespace of a ref
func (o pgOps) LatestNamespace(ctx context.Context, repositoryID int64, trackingRef string) (*types.Namespace, error) {
	var row namespaceRow
	err := sqlx.GetContext(ctx, o.q, &row, o.q.Rebind(namespaceSelect+`
		WHERE n.repository_id = ? AND n.tracking_ref = ? AND n.status = ?
		ORDER BY n.created_at DESC, n.id DESC
		LIMIT 1
	`), repositoryID, trackingRef, string(types.StatusIndexed))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no indexed namespace for repository %d ref %q: %w", repositoryID, trackingRef, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest namespace: %w", err)
	}
	return row.toNamespace(), nil
}

// LatestNamespaces returns the latest INDEXED namespace of each repository and ref
func (o pgOps) LatestNamespaces(ctx context.Context) ([]*types.Namespace, error) {
	return o.selectNamespaces(ctx, `
		SELECT * FROM (
			SELECT DISTINCT ON (n.repository_id, n.tracking_ref)
				n.id, n.repository_id, r.external_slug, n.sha, n.tracking_ref, n.status, n.created_at
			FROM namespaces n
			INNER JOIN repositories r ON r.id = n.repository_id
			WHERE n.status = ?
			ORDER BY n.repository_id, n.tracking_ref, n.created_at DESC, n.id DESC
		) latest
		ORDER BY external_slug, tracking_ref
	`, string(types.StatusIndexed))
}

// ListNamespaces lists the namespaces of a repository, newest first
func (o pgOps) ListNamespaces(ctx context.Context, repositoryID int64, trackingRef string) ([]*types.Namespace, error) {
	query := namespaceSelect + ` WHERE n.repository_id = ?`
	args := []interface{}{repositoryID}
	if trackingRef != "" {
		query += ` AND n.tracking_ref = ?`
		args = append(args, trackingRef)
	}
	query += ` ORDER BY n.created_at DESC, n.id DESC`
	return o.selectNamespaces(ctx, query, args...)
}

func (o pgOps) selectNamespaces(ctx context.Context, query string, args ...interface{}) ([]*types.Namespace, error) {
	var rows []namespaceRow
	if err := sqlx.SelectContext(ctx, o.q, &rows, o.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query namespaces: %w", err)
	}
	out := make([]*types.Namespace, len(rows))
	for i, r := range rows {
		out[i] = r.toNamespace()
	}
	return out, nil
}

// SetNamespaceStatus moves a namespace to status if the lifecycle allows it
func (o pgOps) SetNamespaceStatus(ctx context.Context, id int64, status types.NamespaceStatus) error {
	var current string
	err := sqlx.GetContext(ctx, o.q, &current, o.q.Rebind(`SELECT status FROM namespaces WHERE id = ? FOR UPDATE`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("namespace %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read namespace status: %w", err)
	}

	if err := types.NamespaceStatus(current).CheckTransition(status); err != nil {
		return fmt.Errorf("namespace %d: %w", id, err)
	}

	res, err := o.q.ExecContext(ctx, o.q.Rebind(`UPDATE namespaces SET status = ? WHERE id = ? AND status = ?`),
		string(status), id, current)
	if err != nil {
		return fmt.Errorf("failed to update namespace status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("namespace %d changed status concurrently: %w", id, types.ErrInvalidTransition)
	}
	return nil
}

// DeleteNamespace deletes a namespace; its chunks are removed by cascade
func (o pgOps) DeleteNamespace(ctx context.Context, id int64) error {
	res, err := o.q.ExecContext(ctx, o.q.Rebind(`DELETE FROM namespaces WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete namespace %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("namespace %d: %w", id, types.ErrNotFound)
	}
	return nil
}

// Chunk operations

// InsertChunks writes chunks with multi-row inserts
func (o pgOps) InsertChunks(ctx context.Context, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := validateChunks(chunks, o.dim); err != nil {
		return err
	}

	for start := 0; start < len(chunks); start += insertBatchSize {
		end := min(start+insertBatchSize, len(chunks))
		batch := chunks[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO chunks (id, namespace_id, source_path, content_text, content_vector, metadata_json) VALUES `)
		args := make([]interface{}, 0, len(batch)*6)
		for i := range batch {
			c := &batch[i]
			meta, err := encodeMetadata(c.Metadata)
			if err != nil {
				return fmt.Errorf("%w: chunk %s: %w", types.ErrIndexWrite, c.ID, err)
			}
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?, ?, ?, ?)")
			args = append(args, c.ID, c.NamespaceID, c.Source, c.Content, pgvector.NewVector(c.Vector), meta)
		}

		if _, err := o.q.ExecContext(ctx, o.q.Rebind(sb.String()), args...); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
				return fmt.Errorf("%w: duplicate chunk id: %w", types.ErrIndexWrite, err)
			}
			return fmt.Errorf("%w: insert chunks: %w", types.ErrIndexWrite, err)
		}
	}
	return nil
}

// DeleteChunksBySource deletes the chunks of the given sources in one namespace
func (o pgOps) DeleteChunksBySource(ctx context.Context, namespaceID int64, sources []string) (int, error) {
	if len(sources) == 0 {
		return 0, nil
	}
	res, err := o.q.ExecContext(ctx, o.q.Rebind(`DELETE FROM chunks WHERE namespace_id = ? AND source_path = ANY(?)`),
		namespaceID, pq.Array(sources))
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListChunks returns the chunks of a namespace ordered by source, without vectors
func (o pgOps) ListChunks(ctx context.Context, namespaceID int64) ([]types.Chunk, error) {
	var rows []chunkRow
	err := sqlx.SelectContext(ctx, o.q, &rows, o.q.Rebind(`
		SELECT id, namespace_id, source_path, content_text, metadata_json
		FROM chunks
		WHERE namespace_id = ?
		ORDER BY source_path, id
	`), namespaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}

	chunks := make([]types.Chunk, 0, len(rows))
	for _, r := range rows {
		c, err := r.toChunk()
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// ListSources returns the distinct source paths of a namespace
func (o pgOps) ListSources(ctx context.Context, namespaceID int64) ([]string, error) {
	var sources []string
	err := sqlx.SelectContext(ctx, o.q, &sources,
		o.q.Rebind(`SELECT DISTINCT source_path FROM chunks WHERE namespace_id = ? ORDER BY source_path`), namespaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return sources, nil
}

// CountChunks returns the number of chunks in a namespace
func (o pgOps) CountChunks(ctx context.Context, namespaceID int64) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, o.q, &n, o.q.Rebind(`SELECT COUNT(*) FROM chunks WHERE namespace_id = ?`), namespaceID); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// ExistingChunkIDs reports which ids are stored in one of the namespaces
func (o pgOps) ExistingChunkIDs(ctx context.Context, ids []string, namespaceIDs []int64) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(ids) == 0 || len(namespaceIDs) == 0 {
		return found, nil
	}

	var existing []string
	err := sqlx.SelectContext(ctx, o.q, &existing,
		o.q.Rebind(`SELECT id FROM chunks WHERE id = ANY(?) AND namespace_id = ANY(?)`),
		pq.Array(ids), pq.Array(namespaceIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to check chunk ids: %w", err)
	}
	for _, id := range existing {
		found[id] = true
	}
	return found, nil
}

// Nearest returns the k chunks closest to vector by cosine distance, using the HNSW index
func (o pgOps) Nearest(ctx context.Context, vector []float32, k int, namespaceIDs []int64) ([]ChunkHit, error) {
	if k <= 0 || len(namespaceIDs) == 0 {
		return nil, nil
	}
	if len(vector) != o.dim {
		return nil, fmt.Errorf("query vector has dimension %d, store expects %d", len(vector), o.dim)
	}

	query := o.q.Rebind(`
		SELECT c.id, c.namespace_id, c.source_path, c.content_text, c.metadata_json,
			r.external_slug, n.tracking_ref, 1 - (c.content_vector <=> ?) AS score
		FROM chunks c
		INNER JOIN namespaces n ON n.id = c.namespace_id
		INNER JOIN repositories r ON r.id = n.repository_id
		WHERE c.namespace_id = ANY(?)
		ORDER BY c.content_vector <=> ?
		LIMIT ?
	`)
	qv := pgvector.NewVector(vector)

	var rows []chunkRow
	if err := sqlx.SelectContext(ctx, o.q, &rows, query, qv, pq.Array(namespaceIDs), qv, k); err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}

	hits := make([]ChunkHit, 0, len(rows))
	for _, r := range rows {
		c, err := r.toChunk()
		if err != nil {
			return nil, err
		}
		hits = append(hits, ChunkHit{Chunk: c, RepoSlug: r.RepoSlug, Ref: r.Ref, Score: r.Score})
	}
	return hits, nil
}
