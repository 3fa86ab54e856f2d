package lexical

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/repoindex/internal/storage"
	"github.com/dshills/repoindex/pkg/types"
)

const schema = `
CREATE VIRTUAL TABLE IF NOT EXISTS documents USING fts5(
    doc_id UNINDEXED,
    page_content,
    page_source UNINDEXED,
    page_metadata UNINDEXED,
    repo_id UNINDEXED,
    ref UNINDEXED,
    tokenize = 'unicode61'
);
`

// Hit is one lexical search result
type Hit struct {
	DocID    string
	Content  string
	Source   string
	Metadata map[string]any
	RepoID   string
	Ref      string
	Score    float64 // Negated BM25, higher is better
}

// Index is a full-text index stored in one SQLite FTS5 file.
//
// All writes go through a single writer connection guarded by writeMu, so
// concurrent repository updates serialize here. Searches run on a separate
// reader connection inside a pinned read transaction and only observe
// commits made before the last Reload. Refresh reloads the reader when
// another process committed to the file.
type Index struct {
	path   string
	logger *zap.Logger

	writeMu     sync.Mutex
	writer      *sql.DB
	dataVersion int64 // writer's last seen PRAGMA data_version

	readMu sync.Mutex
	reader *sql.DB
	snap   *sql.Tx
}

// openIndex creates the schema if needed and pins an initial reader snapshot
func openIndex(path string, logger *zap.Logger) (*Index, error) {
	writer, err := openConn(path)
	if err != nil {
		return nil, err
	}
	if _, err := writer.Exec(schema); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to create documents table: %w", err)
	}

	reader, err := openConn(path)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}

	idx := &Index{path: path, logger: logger, writer: writer, reader: reader}
	if idx.dataVersion, err = idx.queryDataVersion(context.Background()); err != nil {
		_ = idx.Close()
		return nil, err
	}
	if err := idx.Reload(context.Background()); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return idx, nil
}

// openConn opens one single-connection handle on the index file
func openConn(path string) (*sql.DB, error) {
	db, err := sql.Open(storage.DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open lexical index %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return db, nil
}

// Path returns the index file location
func (idx *Index) Path() string {
	return idx.path
}

// AddDocuments writes the primary chunks of a namespace in one commit.
// Augmented chunks are skipped. It returns the number of documents written.
func (idx *Index) AddDocuments(ctx context.Context, ns *types.Namespace, chunks []types.Chunk) (int, error) {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	tx, err := idx.writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin lexical write: %w", types.ErrIndexWrite, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (doc_id, page_content, page_source, page_metadata, repo_id, ref)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("%w: prepare lexical insert: %w", types.ErrIndexWrite, err)
	}
	defer func() { _ = stmt.Close() }()

	written := 0
	for i := range chunks {
		c := &chunks[i]
		if c.IsAugmented() {
			continue
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return 0, fmt.Errorf("%w: encode metadata for %s: %w", types.ErrIndexWrite, c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.Content, c.Source, string(meta), ns.RepoSlug, ns.TrackingRef); err != nil {
			return 0, fmt.Errorf("%w: insert lexical document %s: %w", types.ErrIndexWrite, c.ID, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit lexical write: %w", types.ErrIndexWrite, err)
	}

	idx.logger.Debug("lexical documents added",
		zap.String("repo", ns.RepoSlug),
		zap.String("ref", ns.TrackingRef),
		zap.Int("documents", written))
	return written, nil
}

// DeleteDocuments removes the documents of the given source paths for the
// namespace's repository and tracking ref, in one commit
func (idx *Index) DeleteDocuments(ctx context.Context, ns *types.Namespace, sources []string) (int, error) {
	if len(sources) == 0 {
		return 0, nil
	}

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	tx, err := idx.writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin lexical delete: %w", types.ErrIndexWrite, err)
	}
	defer func() { _ = tx.Rollback() }()

	var ids []string
	for _, source := range sources {
		found, err := collectIDs(ctx, tx, `
			SELECT doc_id FROM documents WHERE repo_id = ? AND ref = ? AND page_source = ?
		`, ns.RepoSlug, ns.TrackingRef, source)
		if err != nil {
			return 0, err
		}
		ids = append(ids, found...)
	}

	deleted, err := deleteIDs(ctx, tx, ids)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit lexical delete: %w", types.ErrIndexWrite, err)
	}
	return deleted, nil
}

// Delete removes every document of the namespace's repository, across all
// tracking refs
func (idx *Index) Delete(ctx context.Context, ns *types.Namespace) (int, error) {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	res, err := idx.writer.ExecContext(ctx, `DELETE FROM documents WHERE repo_id = ?`, ns.RepoSlug)
	if err != nil {
		return 0, fmt.Errorf("%w: delete lexical documents of %s: %w", types.ErrIndexWrite, ns.RepoSlug, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteByIDs removes documents by chunk id in one commit
func (idx *Index) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	tx, err := idx.writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin lexical delete: %w", types.ErrIndexWrite, err)
	}
	defer func() { _ = tx.Rollback() }()

	deleted, err := deleteIDs(ctx, tx, ids)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit lexical delete: %w", types.ErrIndexWrite, err)
	}
	return deleted, nil
}

// Search runs a code-aware query against the reader snapshot. A nil namespace
// searches every repository. Queries without usable tokens return no hits.
func (idx *Index) Search(ctx context.Context, query string, k int, ns *types.Namespace) ([]Hit, error) {
	match := matchExpression(Tokenize(query))
	if match == "" || k <= 0 {
		return nil, nil
	}

	sqlQuery := `
		SELECT doc_id, page_content, page_source, page_metadata, repo_id, ref,
			bm25(documents) AS score
		FROM documents
		WHERE documents MATCH ?
	`
	args := []interface{}{match}
	if ns != nil {
		sqlQuery += " AND repo_id = ? AND ref = ?"
		args = append(args, ns.RepoSlug, ns.TrackingRef)
	}
	sqlQuery += " ORDER BY score LIMIT ?"
	args = append(args, k)

	idx.readMu.Lock()
	defer idx.readMu.Unlock()

	rows, err := idx.snap.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute lexical search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var meta string
		var bm25 float64
		if err := rows.Scan(&h.DocID, &h.Content, &h.Source, &meta, &h.RepoID, &h.Ref, &bm25); err != nil {
			return nil, fmt.Errorf("failed to scan lexical hit: %w", err)
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &h.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of %s: %w", h.DocID, err)
			}
		}
		h.Score = -bm25
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Reload moves the reader to the most recently committed generation
func (idx *Index) Reload(ctx context.Context) error {
	idx.readMu.Lock()
	defer idx.readMu.Unlock()

	if idx.snap != nil {
		_ = idx.snap.Rollback()
		idx.snap = nil
	}

	// The snapshot outlives the request that triggered the reload.
	tx, err := idx.reader.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return fmt.Errorf("failed to begin reader snapshot: %w", err)
	}

	// WAL snapshots are taken on the first read, not at BEGIN
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM documents`).Scan(&n); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to pin reader snapshot: %w", err)
	}

	idx.snap = tx
	return nil
}

// Refresh reloads the reader when another connection committed to the file
// since the last check, and reports whether it did. Commits made through
// this Index do not count; its writers reload explicitly.
func (idx *Index) Refresh(ctx context.Context) (bool, error) {
	// A busy writer skips the check; the next search retries
	if !idx.writeMu.TryLock() {
		return false, nil
	}
	v, err := idx.queryDataVersion(ctx)
	changed := err == nil && v != idx.dataVersion
	if changed {
		idx.dataVersion = v
	}
	idx.writeMu.Unlock()

	if err != nil || !changed {
		return false, err
	}
	if err := idx.Reload(ctx); err != nil {
		return false, err
	}
	idx.logger.Debug("lexical reader refreshed", zap.Int64("data_version", v))
	return true, nil
}

// queryDataVersion reads the writer connection's data_version, which moves
// whenever another connection commits
func (idx *Index) queryDataVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := idx.writer.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read lexical data version: %w", err)
	}
	return v, nil
}

// Count returns the number of committed documents, optionally scoped to a
// namespace's repository and ref
func (idx *Index) Count(ctx context.Context, ns *types.Namespace) (int, error) {
	query := `SELECT count(*) FROM documents`
	var args []interface{}
	if ns != nil {
		query += ` WHERE repo_id = ? AND ref = ?`
		args = append(args, ns.RepoSlug, ns.TrackingRef)
	}

	var n int
	if err := idx.writer.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count lexical documents: %w", err)
	}
	return n, nil
}

// Close releases the reader snapshot and both connections
func (idx *Index) Close() error {
	idx.readMu.Lock()
	if idx.snap != nil {
		_ = idx.snap.Rollback()
		idx.snap = nil
	}
	idx.readMu.Unlock()

	return errors.Join(idx.reader.Close(), idx.writer.Close())
}

// collectIDs runs a doc_id query inside a write transaction
func collectIDs(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: find lexical documents: %w", types.ErrIndexWrite, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan doc id: %w", types.ErrIndexWrite, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func deleteIDs(ctx context.Context, tx *sql.Tx, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM documents WHERE doc_id = ?`)
	if err != nil {
		return 0, fmt.Errorf("%w: prepare lexical delete: %w", types.ErrIndexWrite, err)
	}
	defer func() { _ = stmt.Close() }()

	total := 0
	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("%w: delete lexical document %s: %w", types.ErrIndexWrite, id, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

// matchExpression ORs the distinct tokens as quoted FTS5 phrases
func matchExpression(tokens []string) string {
	seen := make(map[string]bool, len(tokens))
	var terms []string
	for _, tok := range tokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		terms = append(terms, `"`+strings.ReplaceAll(tok, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " OR ")
}
