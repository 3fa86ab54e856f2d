package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/repoindex/pkg/types"
)

// ErrNestedTx is returned when BeginTx is called on a transaction
var ErrNestedTx = errors.New("nested transactions are not supported")

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	sqliteOps
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(ctx context.Context, dbPath string, dim int) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(ctx, db, SQLiteMigrations, sqliteBind); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	if err := checkDimension(ctx, db, dim, sqliteBind); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStorage{sqliteOps: sqliteOps{q: db, dim: dim}, db: db}, nil
}

// sqliteBind keeps '?' placeholders as they are
func sqliteBind(query string) string { return query }

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{sqliteOps: sqliteOps{q: tx, dim: s.dim}, tx: tx}, nil
}

// GetOrCreateNamespace runs the lookup and the insert in one transaction
func (s *SQLiteStorage) GetOrCreateNamespace(ctx context.Context, repositoryID int64, trackingRef, headSHA string) (*types.Namespace, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	ops := sqliteOps{q: tx, dim: s.dim}
	ns, created, err := ops.GetOrCreateNamespace(ctx, repositoryID, trackingRef, headSHA)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit namespace: %w", err)
	}
	return ns, created, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	sqliteOps
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, ErrNestedTx
}

func (t *sqliteTx) Close() error {
	return t.tx.Rollback()
}

// sqliteOps holds the operations shared by the database and its transactions
type sqliteOps struct {
	q   querier
	dim int
}

// Dimension returns the embedding dimension of the store
func (o sqliteOps) Dimension() int {
	return o.dim
}

// Repository operations

// UpsertRepository inserts or updates a repository keyed by client kind and external id
func (o sqliteOps) UpsertRepository(ctx context.Context, repo *types.RepositoryRef) error {
	query := `
		INSERT INTO repositories (external_id, external_slug, client_kind, default_branch, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_kind, external_id) DO UPDATE SET
			external_slug = excluded.external_slug,
			default_branch = excluded.default_branch,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := time.Now().UTC()
	err := o.q.QueryRowContext(ctx, query,
		repo.ExternalID, repo.Slug, string(repo.ClientKind), repo.DefaultBranch, now, now,
	).Scan(&repo.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert repository %s: %w", repo.Slug, err)
	}
	return nil
}

const repositoryColumns = `id, external_id, external_slug, client_kind, default_branch`

// GetRepository retrieves a repository by its id
func (o sqliteOps) GetRepository(ctx context.Context, id int64) (*types.RepositoryRef, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`, id)
	repo, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository %d: %w", id, types.ErrNotFound)
	}
	return repo, err
}

// GetRepositoryBySlug retrieves a repository by its slug
func (o sqliteOps) GetRepositoryBySlug(ctx context.Context, slug string) (*types.RepositoryRef, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE external_slug = ? ORDER BY id LIMIT 1`, slug)
	repo, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository %q: %w", slug, types.ErrNotFound)
	}
	return repo, err
}

// ListRepositories lists every known repository ordered by slug
func (o sqliteOps) ListRepositories(ctx context.Context) ([]*types.RepositoryRef, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT `+repositoryColumns+` FROM repositories ORDER BY external_slug`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var repos []*types.RepositoryRef
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRepository(row rowScanner) (*types.RepositoryRef, error) {
	var repo types.RepositoryRef
	var kind string
	if err := row.Scan(&repo.ID, &repo.ExternalID, &repo.Slug, &kind, &repo.DefaultBranch); err != nil {
		return nil, err
	}
	repo.ClientKind = types.ClientKind(kind)
	return &repo, nil
}

// Namespace operations

const namespaceSelect = `
	SELECT n.id, n.repository_id, r.external_slug, n.sha, n.tracking_ref, n.status, n.created_at
	FROM namespaces n
	INNER JOIN repositories r ON r.id = n.repository_id
`

// GetOrCreateNamespace returns the latest INDEXED namespace or inserts a PENDING one
func (o sqliteOps) GetOrCreateNamespace(ctx context.Context, repositoryID int64, trackingRef, headSHA string) (*types.Namespace, bool, error) {
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
func (o sqliteOps) CreateNamespace(ctx context.Context, repositoryID int64, trackingRef, headSHA string) (*types.Namespace, error) {
	var id int64
	err := o.q.QueryRowContext(ctx, `
		INSERT INTO namespaces (repository_id, sha, tracking_ref, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`, repositoryID, headSHA, trackingRef, string(types.StatusPending), time.Now().UTC()).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to create namespace: %w", err)
	}
	return o.GetNamespace(ctx, id)
}

// GetNamespace retrieves a namespace by id
func (o sqliteOps) GetNamespace(ctx context.Context, id int64) (*types.Namespace, error) {
	row := o.q.QueryRowContext(ctx, namespaceSelect+` WHERE n.id = ?`, id)
	ns, err := scanNamespace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("namespace %d: %w", id, types.ErrNotFound)
	}
	return ns, err
}

// LatestNamespace returns the most recently created INDEXED namespace of a ref
func (o sqliteOps) LatestNamespace(ctx context.Context, repositoryID int64, trackingRef string) (*types.Namespace, error) {
	row := o.q.QueryRowContext(ctx, namespaceSelect+`
		WHERE n.repository_id = ? AND n.tracking_ref = ? AND n.status = ?
		ORDER BY n.created_at DESC, n.id DESC
		LIMIT 1
	`, repositoryID, trackingRef, string(types.StatusIndexed))
	ns, err := scanNamespace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no indexed namespace for repository %d ref %q: %w", repositoryID, trackingRef, types.ErrNotFound)
	}
	return ns, err
}

// LatestNamespaces returns the latest INDEXED namespace of each repository and ref
func (o sqliteOps) LatestNamespaces(ctx context.Context) ([]*types.Namespace, error) {
	return o.queryNamespaces(ctx, namespaceSelect+`
		WHERE n.status = ? AND n.id = (
			SELECT l.id FROM namespaces l
			WHERE l.repository_id = n.repository_id AND l.tracking_ref = n.tracking_ref AND l.status = n.status
			ORDER BY l.created_at DESC, l.id DESC
			LIMIT 1
		)
		ORDER BY r.external_slug, n.tracking_ref
	`, string(types.StatusIndexed))
}

// ListNamespaces lists the namespaces of a repository, newest first
func (o sqliteOps) ListNamespaces(ctx context.Context, repositoryID int64, trackingRef string) ([]*types.Namespace, error) {
	query := namespaceSelect + ` WHERE n.repository_id = ?`
	args := []interface{}{repositoryID}
	if trackingRef != "" {
		query += ` AND n.tracking_ref = ?`
		args = append(args, trackingRef)
	}
	query += ` ORDER BY n.created_at DESC, n.id DESC`
	return o.queryNamespaces(ctx, query, args...)
}

func (o sqliteOps) queryNamespaces(ctx context.Context, query string, args ...interface{}) ([]*types.Namespace, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query namespaces: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Namespace
	for rows.Next() {
		ns, err := scanNamespace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}

func scanNamespace(row rowScanner) (*types.Namespace, error) {
	var ns types.Namespace
	var status string
	if err := row.Scan(&ns.ID, &ns.RepositoryID, &ns.RepoSlug, &ns.SHA, &ns.TrackingRef, &status, &ns.CreatedAt); err != nil {
		return nil, err
	}
	ns.Status = types.NamespaceStatus(status)
	return &ns, nil
}

// SetNamespaceStatus moves a namespace to status if the lifecycle allows it
func (o sqliteOps) SetNamespaceStatus(ctx context.Context, id int64, status types.NamespaceStatus) error {
	var current string
	err := o.q.QueryRowContext(ctx, `SELECT status FROM namespaces WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("namespace %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read namespace status: %w", err)
	}

	if err := types.NamespaceStatus(current).CheckTransition(status); err != nil {
		return fmt.Errorf("namespace %d: %w", id, err)
	}

	// The status guard keeps a concurrent writer from skipping a state
	res, err := o.q.ExecContext(ctx, `UPDATE namespaces SET status = ? WHERE id = ? AND status = ?`, string(status), id, current)
	if err != nil {
		return fmt.Errorf("failed to update namespace status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("namespace %d changed status concurrently: %w", id, types.ErrInvalidTransition)
	}
	return nil
}

// DeleteNamespace deletes a namespace; its chunks are removed by cascade
func (o sqliteOps) DeleteNamespace(ctx context.Context, id int64) error {
	res, err := o.q.ExecContext(ctx, `DELETE FROM namespaces WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete namespace %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("namespace %d: %w", id, types.ErrNotFound)
	}
	return nil
}

// Chunk operations

// InsertChunks writes chunks as one bulk insert
func (o sqliteOps) InsertChunks(ctx context.Context, chunks []types.Chunk) error {
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
			args = append(args, c.ID, c.NamespaceID, c.Source, c.Content, serializeVector(c.Vector), meta)
		}

		if _, err := o.q.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("%w: insert chunks: %w", types.ErrIndexWrite, err)
		}
	}
	return nil
}

// DeleteChunksBySource deletes the chunks of the given sources in one namespace
func (o sqliteOps) DeleteChunksBySource(ctx context.Context, namespaceID int64, sources []string) (int, error) {
	total := 0
	for _, batch := range batchStrings(sources, paramBatchSize) {
		query := `DELETE FROM chunks WHERE namespace_id = ? AND source_path IN (` + placeholders(len(batch)) + `)`
		args := append([]interface{}{namespaceID}, stringArgs(batch)...)
		res, err := o.q.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to delete chunks: %w", err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

// ListChunks returns the chunks of a namespace ordered by source, without vectors
func (o sqliteOps) ListChunks(ctx context.Context, namespaceID int64) ([]types.Chunk, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT id, namespace_id, source_path, content_text, metadata_json
		FROM chunks
		WHERE namespace_id = ?
		ORDER BY source_path, id
	`, namespaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []types.Chunk
	for rows.Next() {
		var c types.Chunk
		var meta string
		if err := rows.Scan(&c.ID, &c.NamespaceID, &c.Source, &c.Content, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if c.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ListSources returns the distinct source paths of a namespace
func (o sqliteOps) ListSources(ctx context.Context, namespaceID int64) ([]string, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT DISTINCT source_path FROM chunks WHERE namespace_id = ? ORDER BY source_path`, namespaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sources []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// CountChunks returns the number of chunks in a namespace
func (o sqliteOps) CountChunks(ctx context.Context, namespaceID int64) (int, error) {
	var n int
	if err := o.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE namespace_id = ?`, namespaceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// ExistingChunkIDs reports which ids are stored in one of the namespaces
func (o sqliteOps) ExistingChunkIDs(ctx context.Context, ids []string, namespaceIDs []int64) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(ids) == 0 || len(namespaceIDs) == 0 {
		return found, nil
	}

	nsArgs := int64Args(namespaceIDs)
	for _, batch := range batchStrings(ids, paramBatchSize) {
		query := `SELECT id FROM chunks WHERE id IN (` + placeholders(len(batch)) + `)` +
			` AND namespace_id IN (` + placeholders(len(namespaceIDs)) + `)`
		args := append(stringArgs(batch), nsArgs...)

		rows, err := o.q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to check chunk ids: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return nil, err
			}
			found[id] = true
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return found, nil
}

// Nearest returns the k chunks most similar to vector within the namespaces
func (o sqliteOps) Nearest(ctx context.Context, vector []float32, k int, namespaceIDs []int64) ([]ChunkHit, error) {
	if k <= 0 || len(namespaceIDs) == 0 {
		return nil, nil
	}
	if len(vector) != o.dim {
		return nil, fmt.Errorf("query vector has dimension %d, store expects %d", len(vector), o.dim)
	}

	// Use SQL-side distance when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, o.q, vector, k, namespaceIDs)
	}
	return searchVectorFallback(ctx, o.q, vector, k, namespaceIDs)
}

const (
	insertBatchSize = 100 // rows per INSERT statement (6 params each)
	paramBatchSize  = 500 // ids per IN (...) list
)

func encodeMetadata(meta map[string]any) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(raw string) (map[string]any, error) {
	meta := make(map[string]any)
	if raw == "" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return meta, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func int64Args(values []int64) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func batchStrings(values []string, size int) [][]string {
	var batches [][]string
	for start := 0; start < len(values); start += size {
		batches = append(batches, values[start:min(start+size, len(values))])
	}
	return batches
}
