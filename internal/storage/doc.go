// Package storage persists repositories, namespaces and embedded chunks.
//
// It backs the semantic index. Two implementations share the Storage
// interface:
//   - SQLiteStorage: a single file, vectors stored as little-endian float32
//     blobs and ranked either by sqlite-vec (cgo builds) or in Go (purego builds)
//   - PostgresStorage: pgvector columns with an HNSW cosine index
//
// # Database Schema
//
// Tables:
//   - repositories: external identity of a repository (client kind, id, slug)
//   - namespaces: one indexing generation per (repository, tracking ref, sha)
//     with its PENDING/INDEXING/INDEXED/FAILED status
//   - chunks: chunk text, metadata and vector, owned by one namespace
//   - settings: the embedding dimension the store was created with
//   - schema_version: applied migrations
//
// Deleting a namespace removes its chunks through a cascading foreign key.
//
// # Basic Usage
//
//	store, err := storage.Open(ctx, storage.Config{
//	    Driver:    storage.DriverSQLite,
//	    Path:      filepath.Join(dataDir, "semantic.db"),
//	    Dimension: 768,
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	ns, created, err := store.GetOrCreateNamespace(ctx, repo.ID, "main", sha)
//
// # Transactions
//
// Namespace writes happen inside one transaction. While a transaction is
// open, use only its methods: SQLite runs on a single connection and a call
// on the parent store would block until the transaction ends.
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	if err := tx.InsertChunks(ctx, chunks); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// # Vector Search
//
// Nearest returns the k chunks closest to a query vector by cosine
// similarity, restricted to the given namespaces. An empty namespace list
// yields no results.
package storage
