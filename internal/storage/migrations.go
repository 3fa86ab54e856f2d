package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/Masterminds/semver/v3"

	"github.com/dshills/repoindex/pkg/types"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.0.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// SQLiteMigrations contains all SQLite migrations in order
var SQLiteMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      sqliteV1Up,
		Down:    sqliteV1Down,
	},
}

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const sqliteV1Up = `
-- Store settings (embedding dimension)
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Repositories table
CREATE TABLE IF NOT EXISTS repositories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    external_id TEXT NOT NULL,
    external_slug TEXT NOT NULL,
    client_kind TEXT NOT NULL,
    default_branch TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(client_kind, external_id)
);

CREATE INDEX IF NOT EXISTS idx_repositories_slug ON repositories(external_slug);

-- Namespaces table: one row per indexing generation
CREATE TABLE IF NOT EXISTS namespaces (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    repository_id INTEGER NOT NULL,
    sha TEXT NOT NULL,
    tracking_ref TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'PENDING'
        CHECK(status IN ('PENDING', 'INDEXING', 'INDEXED', 'FAILED')),
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (repository_id) REFERENCES repositories(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_namespaces_latest ON namespaces(repository_id, tracking_ref, status, created_at);

-- Chunks table
CREATE TABLE IF NOT EXISTS chunks (
    id TEXT PRIMARY KEY,
    namespace_id INTEGER NOT NULL,
    source_path TEXT NOT NULL,
    content_text TEXT NOT NULL,
    content_vector BLOB NOT NULL,
    metadata_json TEXT NOT NULL DEFAULT '{}',
    FOREIGN KEY (namespace_id) REFERENCES namespaces(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_chunks_namespace ON chunks(namespace_id);
CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(namespace_id, source_path);
`

const sqliteV1Down = `
DROP TABLE IF EXISTS chunks;
DROP TABLE IF EXISTS namespaces;
DROP TABLE IF EXISTS repositories;
DROP TABLE IF EXISTS settings;
`

// PostgresMigrations returns the PostgreSQL migrations for a vector dimension.
// The HNSW index uses cosine distance with m=16 and ef_construction=64.
func PostgresMigrations(dim int) []Migration {
	return []Migration{
		{
			Version: "1.0.0",
			Up: fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS repositories (
    id BIGSERIAL PRIMARY KEY,
    external_id TEXT NOT NULL,
    external_slug TEXT NOT NULL,
    client_kind TEXT NOT NULL,
    default_branch TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (client_kind, external_id)
);

CREATE INDEX IF NOT EXISTS idx_repositories_slug ON repositories(external_slug);

CREATE TABLE IF NOT EXISTS namespaces (
    id BIGSERIAL PRIMARY KEY,
    repository_id BIGINT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
    sha TEXT NOT NULL,
    tracking_ref TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'PENDING'
        CHECK (status IN ('PENDING', 'INDEXING', 'INDEXED', 'FAILED')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_namespaces_latest ON namespaces(repository_id, tracking_ref, status, created_at DESC);

CREATE TABLE IF NOT EXISTS chunks (
    id TEXT PRIMARY KEY,
    namespace_id BIGINT NOT NULL REFERENCES namespaces(id) ON DELETE CASCADE,
    source_path TEXT NOT NULL,
    content_text TEXT NOT NULL,
    content_vector vector(%d) NOT NULL,
    metadata_json JSONB NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_chunks_namespace ON chunks(namespace_id);
CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(namespace_id, source_path);
CREATE INDEX IF NOT EXISTS idx_chunks_vector ON chunks
    USING hnsw (content_vector vector_cosine_ops) WITH (m = 16, ef_construction = 64);
`, dim),
			Down: `
DROP TABLE IF EXISTS chunks;
DROP TABLE IF EXISTS namespaces;
DROP TABLE IF EXISTS repositories;
DROP TABLE IF EXISTS settings;
`,
		},
	}
}

// ApplyMigrations runs all pending migrations. bind rewrites '?' placeholders
// for the target database.
func ApplyMigrations(ctx context.Context, db querier, migrations []Migration, bind func(string) string) error {
	if _, err := db.ExecContext(ctx, schemaVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	currentVersion, err := currentSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	// Run migrations in order
	for _, migration := range migrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !currentVersion.LessThan(migrationVersion) {
			continue // Already applied
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		if _, err := db.ExecContext(ctx, bind("INSERT INTO schema_version (version) VALUES (?)"), migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		currentVersion = migrationVersion
	}

	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db querier, migrations []Migration, bind func(string) string) error {
	current, err := currentSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	var migration *Migration
	for i := range migrations {
		v, err := semver.NewVersion(migrations[i].Version)
		if err == nil && v.Equal(current) {
			migration = &migrations[i]
			break
		}
	}

	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}

	if _, err := db.ExecContext(ctx, bind("DELETE FROM schema_version WHERE version = ?"), migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
	}

	return nil
}

// currentSchemaVersion returns the highest recorded version, 0.0.0 when none
func currentSchemaVersion(ctx context.Context, db querier) (*semver.Version, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var versionStr string
		if err := rows.Scan(&versionStr); err != nil {
			return nil, fmt.Errorf("failed to scan schema_version: %w", err)
		}
		v, err := semver.NewVersion(versionStr)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", versionStr, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}

// checkDimension records the embedding dimension on first open and rejects a
// different dimension afterwards
func checkDimension(ctx context.Context, db querier, dim int, bind func(string) string) error {
	var stored string
	err := db.QueryRowContext(ctx, bind("SELECT value FROM settings WHERE key = ?"), "dimension").Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = db.ExecContext(ctx, bind("INSERT INTO settings (key, value) VALUES (?, ?)"), "dimension", strconv.Itoa(dim))
		if err != nil {
			return fmt.Errorf("failed to record embedding dimension: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read embedding dimension: %w", err)
	}

	if stored != strconv.Itoa(dim) {
		return fmt.Errorf("%w: store was built with embedding dimension %s, configured %d",
			types.ErrConfiguration, stored, dim)
	}
	return nil
}
