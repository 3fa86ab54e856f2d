package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoindex/pkg/types"
)

const testDim = 4

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(context.Background(), ":memory:", testDim)
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func createRepo(t *testing.T, s Storage, slug string) *types.RepositoryRef {
	t.Helper()
	repo := &types.RepositoryRef{ExternalID: slug, Slug: slug, ClientKind: types.ClientLocal, DefaultBranch: "main"}
	require.NoError(t, s.UpsertRepository(context.Background(), repo))
	require.Greater(t, repo.ID, int64(0))
	return repo
}

func indexedNamespace(t *testing.T, s Storage, repoID int64, ref, sha string) *types.Namespace {
	t.Helper()
	ctx := context.Background()
	ns, created, err := s.GetOrCreateNamespace(ctx, repoID, ref, sha)
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, s.SetNamespaceStatus(ctx, ns.ID, types.StatusIndexing))
	require.NoError(t, s.SetNamespaceStatus(ctx, ns.ID, types.StatusIndexed))
	ns.Status = types.StatusIndexed
	return ns
}

func testChunk(id string, nsID int64, source, content string, vec []float32) types.Chunk {
	return types.Chunk{
		ID:          id,
		NamespaceID: nsID,
		Source:      source,
		Content:     content,
		Vector:      vec,
		Metadata:    map[string]any{types.MetaSource: source, types.MetaLanguage: "go"},
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)
	assert.Equal(t, testDim, storage.Dimension())
}

func TestOpen_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, Config{Driver: "mysql", Path: "x.db", Dimension: 4})
	assert.ErrorIs(t, err, types.ErrConfiguration)

	_, err = Open(ctx, Config{Driver: DriverSQLite, Path: "x.db"})
	assert.ErrorIs(t, err, types.ErrConfiguration)

	_, err = Open(ctx, Config{Driver: DriverPostgres, Dimension: 4})
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestDimensionMismatchOnReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	s, err := NewSQLiteStorage(ctx, path, 4)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = NewSQLiteStorage(ctx, path, 8)
	assert.ErrorIs(t, err, types.ErrConfiguration)

	s, err = NewSQLiteStorage(ctx, path, 4)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestUpsertRepository(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	repo := createRepo(t, storage, "octo/api")

	// Same external identity updates in place
	again := &types.RepositoryRef{ExternalID: "octo/api", Slug: "octo/api-renamed", ClientKind: types.ClientLocal, DefaultBranch: "develop"}
	require.NoError(t, storage.UpsertRepository(ctx, again))
	assert.Equal(t, repo.ID, again.ID)

	got, err := storage.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, "octo/api-renamed", got.Slug)
	assert.Equal(t, "develop", got.DefaultBranch)
	assert.Equal(t, types.ClientLocal, got.ClientKind)

	bySlug, err := storage.GetRepositoryBySlug(ctx, "octo/api-renamed")
	require.NoError(t, err)
	assert.Equal(t, repo.ID, bySlug.ID)

	_, err = storage.GetRepository(ctx, 9999)
	assert.ErrorIs(t, err, types.ErrNotFound)

	createRepo(t, storage, "octo/web")
	repos, err := storage.ListRepositories(ctx)
	require.NoError(t, err)
	assert.Len(t, repos, 2)
}

func TestNamespaceLifecycle(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	repo := createRepo(t, storage, "octo/api")

	ns, created, err := storage.GetOrCreateNamespace(ctx, repo.ID, "main", "sha1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, types.StatusPending, ns.Status)
	assert.Equal(t, "octo/api", ns.RepoSlug)

	// A PENDING namespace is never the latest
	_, err = storage.LatestNamespace(ctx, repo.ID, "main")
	assert.ErrorIs(t, err, types.ErrNotFound)

	// Skipping INDEXING is rejected
	err = storage.SetNamespaceStatus(ctx, ns.ID, types.StatusIndexed)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	require.NoError(t, storage.SetNamespaceStatus(ctx, ns.ID, types.StatusIndexing))
	require.NoError(t, storage.SetNamespaceStatus(ctx, ns.ID, types.StatusIndexed))

	latest, err := storage.LatestNamespace(ctx, repo.ID, "main")
	require.NoError(t, err)
	assert.Equal(t, ns.ID, latest.ID)
	assert.Equal(t, types.StatusIndexed, latest.Status)

	// INDEXED is terminal
	err = storage.SetNamespaceStatus(ctx, ns.ID, types.StatusFailed)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	// An existing INDEXED generation is returned regardless of the head
	again, created, err := storage.GetOrCreateNamespace(ctx, repo.ID, "main", "sha2")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, ns.ID, again.ID)
	assert.Equal(t, "sha1", again.SHA)
}

func TestCreateNamespace_AlwaysInserts(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	repo := createRepo(t, storage, "octo/api")

	good := indexedNamespace(t, storage, repo.ID, "main", "sha1")

	next, err := storage.CreateNamespace(ctx, repo.ID, "main", "sha2")
	require.NoError(t, err)
	assert.Greater(t, next.ID, good.ID)
	assert.Equal(t, types.StatusPending, next.Status)
	assert.Equal(t, "sha2", next.SHA)

	// The INDEXED generation stays latest until the new one is marked
	latest, err := storage.LatestNamespace(ctx, repo.ID, "main")
	require.NoError(t, err)
	assert.Equal(t, good.ID, latest.ID)
}

func TestLatestNamespace_IgnoresNewerFailedAndPending(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	repo := createRepo(t, storage, "octo/api")

	good := indexedNamespace(t, storage, repo.ID, "main", "sha1")

	// Newer generations that never reached INDEXED
	later := good.CreatedAt.Add(time.Hour)
	for _, status := range []types.NamespaceStatus{types.StatusFailed, types.StatusPending, types.StatusIndexing} {
		_, err := storage.db.ExecContext(ctx,
			`INSERT INTO namespaces (repository_id, sha, tracking_ref, status, created_at) VALUES (?, ?, ?, ?, ?)`,
			repo.ID, "sha-"+string(status), "main", string(status), later)
		require.NoError(t, err)
	}

	latest, err := storage.LatestNamespace(ctx, repo.ID, "main")
	require.NoError(t, err)
	assert.Equal(t, good.ID, latest.ID)

	all, err := storage.ListNamespaces(ctx, repo.ID, "main")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestLatestNamespaces(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	api := createRepo(t, storage, "octo/api")
	web := createRepo(t, storage, "octo/web")

	first := indexedNamespace(t, storage, api.ID, "main", "a1")
	require.NoError(t, storage.DeleteNamespace(ctx, first.ID))
	second := indexedNamespace(t, storage, api.ID, "main", "a2")
	dev := indexedNamespace(t, storage, api.ID, "dev", "a3")
	webNs := indexedNamespace(t, storage, web.ID, "main", "w1")

	// Pending generations are not served
	_, _, err := storage.GetOrCreateNamespace(ctx, web.ID, "dev", "w2")
	require.NoError(t, err)

	latest, err := storage.LatestNamespaces(ctx)
	require.NoError(t, err)

	var ids []int64
	for _, ns := range latest {
		ids = append(ids, ns.ID)
	}
	assert.ElementsMatch(t, []int64{second.ID, dev.ID, webNs.ID}, ids)

	all, err := storage.ListNamespaces(ctx, api.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mainOnly, err := storage.ListNamespaces(ctx, api.ID, "main")
	require.NoError(t, err)
	require.Len(t, mainOnly, 1)
	assert.Equal(t, second.ID, mainOnly[0].ID)
}

func TestInsertAndListChunks(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	repo := createRepo(t, storage, "octo/api")
	ns := indexedNamespace(t, storage, repo.ID, "main", "sha1")

	chunks := []types.Chunk{
		testChunk("c1", ns.ID, "a.go", "package a", []float32{1, 0, 0, 0}),
		testChunk("c2", ns.ID, "a.go", "func A()", []float32{0, 1, 0, 0}),
		testChunk("c3", ns.ID, "b.go", "package b", []float32{0, 0, 1, 0}),
	}
	require.NoError(t, storage.InsertChunks(ctx, chunks))

	count, err := storage.CountChunks(ctx, ns.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	listed, err := storage.ListChunks(ctx, ns.ID)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "c1", listed[0].ID)
	assert.Equal(t, "go", listed[0].Metadata[types.MetaLanguage])
	assert.Nil(t, listed[0].Vector)

	sources, err := storage.ListSources(ctx, ns.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.go"}, sources)

	deleted, err := storage.DeleteChunksBySource(ctx, ns.ID, []string{"a.go"})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	count, err = storage.CountChunks(ctx, ns.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInsertChunks_RejectsWrongDimension(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	repo := createRepo(t, storage, "octo/api")
	ns := indexedNamespace(t, storage, repo.ID, "main", "sha1")

	err := storage.InsertChunks(ctx, []types.Chunk{testChunk("c1", ns.ID, "a.go", "x", []float32{1, 2})})
	assert.ErrorIs(t, err, types.ErrIndexWrite)
}

func TestInsertChunks_LargeBatch(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	repo := createRepo(t, storage, "octo/api")
	ns := indexedNamespace(t, storage, repo.ID, "main", "sha1")

	var chunks []types.Chunk
	for i := 0; i < 2*insertBatchSize+7; i++ {
		chunks = append(chunks, testChunk(fmt.Sprintf("c%03d", i), ns.ID, "big.go", "line", []float32{1, 1, 1, 1}))
	}
	require.NoError(t, storage.InsertChunks(ctx, chunks))

	count, err := storage.CountChunks(ctx, ns.ID)
	require.NoError(t, err)
	assert.Equal(t, len(chunks), count)
}

func TestDeleteNamespace_CascadesToChunks(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	repo := createRepo(t, storage, "octo/api")
	ns := indexedNamespace(t, storage, repo.ID, "main", "sha1")

	require.NoError(t, storage.InsertChunks(ctx, []types.Chunk{testChunk("c1", ns.ID, "a.go", "x", []float32{1, 0, 0, 0})}))
	require.NoError(t, storage.DeleteNamespace(ctx, ns.ID))

	count, err := storage.CountChunks(ctx, ns.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	assert.ErrorIs(t, storage.DeleteNamespace(ctx, ns.ID), types.ErrNotFound)
}

func TestExistingChunkIDs(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	repo := createRepo(t, storage, "octo/api")
	main := indexedNamespace(t, storage, repo.ID, "main", "sha1")
	dev := indexedNamespace(t, storage, repo.ID, "dev", "sha2")

	require.NoError(t, storage.InsertChunks(ctx, []types.Chunk{
		testChunk("m1", main.ID, "a.go", "x", []float32{1, 0, 0, 0}),
		testChunk("d1", dev.ID, "a.go", "x", []float32{1, 0, 0, 0}),
	}))

	found, err := storage.ExistingChunkIDs(ctx, []string{"m1", "d1", "gone"}, []int64{main.ID})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"m1": true}, found)

	found, err = storage.ExistingChunkIDs(ctx, []string{"m1"}, nil)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestNearest_ScopedByNamespace(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	api := createRepo(t, storage, "octo/api")
	web := createRepo(t, storage, "octo/web")
	apiNs := indexedNamespace(t, storage, api.ID, "main", "sha1")
	webNs := indexedNamespace(t, storage, web.ID, "main", "sha2")

	require.NoError(t, storage.InsertChunks(ctx, []types.Chunk{
		testChunk("a1", apiNs.ID, "a.go", "exact", []float32{1, 0, 0, 0}),
		testChunk("a2", apiNs.ID, "b.go", "close", []float32{0.9, 0.1, 0, 0}),
		testChunk("a3", apiNs.ID, "c.go", "far", []float32{0, 0, 0, 1}),
		testChunk("w1", webNs.ID, "a.go", "exact elsewhere", []float32{1, 0, 0, 0}),
	}))

	hits, err := storage.Nearest(ctx, []float32{1, 0, 0, 0}, 2, []int64{apiNs.ID})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a1", hits[0].Chunk.ID)
	assert.Equal(t, "a2", hits[1].Chunk.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "octo/api", hits[0].RepoSlug)
	assert.Equal(t, "main", hits[0].Ref)
	assert.Equal(t, "a.go", hits[0].Chunk.Metadata[types.MetaSource])

	both, err := storage.Nearest(ctx, []float32{1, 0, 0, 0}, 10, []int64{apiNs.ID, webNs.ID})
	require.NoError(t, err)
	assert.Len(t, both, 4)

	none, err := storage.Nearest(ctx, []float32{1, 0, 0, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = storage.Nearest(ctx, []float32{1, 0}, 10, []int64{apiNs.ID})
	assert.Error(t, err)
}

func TestBeginTx_CommitRollback(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	repo := createRepo(t, storage, "octo/api")
	ns := indexedNamespace(t, storage, repo.ID, "main", "sha1")

	t.Run("rollback discards chunks", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.InsertChunks(ctx, []types.Chunk{testChunk("r1", ns.ID, "a.go", "x", []float32{1, 0, 0, 0})}))
		require.NoError(t, tx.Rollback())

		count, err := storage.CountChunks(ctx, ns.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("commit keeps chunks", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.InsertChunks(ctx, []types.Chunk{testChunk("k1", ns.ID, "a.go", "x", []float32{1, 0, 0, 0})}))
		require.NoError(t, tx.Commit())

		count, err := storage.CountChunks(ctx, ns.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("nested transactions are rejected", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback() }()

		_, err = tx.BeginTx(ctx)
		assert.ErrorIs(t, err, ErrNestedTx)
	})
}

func TestGetOrCreateNamespace_Concurrent(t *testing.T) {
	ctx := context.Background()
	storage, err := NewSQLiteStorage(ctx, filepath.Join(t.TempDir(), "index.db"), testDim)
	require.NoError(t, err)
	defer func() { _ = storage.Close() }()

	repo := createRepo(t, storage, "octo/api")
	ns := indexedNamespace(t, storage, repo.ID, "main", "sha1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, created, err := storage.GetOrCreateNamespace(ctx, repo.ID, "main", "sha2")
			assert.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, ns.ID, got.ID)
		}()
	}
	wg.Wait()
}
