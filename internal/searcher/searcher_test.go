package searcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoindex/internal/embedder"
	"github.com/dshills/repoindex/internal/lexical"
	"github.com/dshills/repoindex/internal/semantic"
	"github.com/dshills/repoindex/internal/storage"
	"github.com/dshills/repoindex/pkg/types"
)

// mockSemantic returns canned hits and records calls
type mockSemantic struct {
	mu    sync.Mutex
	hits  []storage.ChunkHit
	err   error
	calls int
	nsIDs []int64
}

func (m *mockSemantic) Search(ctx context.Context, query string, k int, namespaceIDs []int64) ([]storage.ChunkHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.nsIDs = namespaceIDs
	if m.err != nil {
		return nil, m.err
	}
	if k < len(m.hits) {
		return m.hits[:k], nil
	}
	return m.hits, nil
}

// mockLexical returns canned hits and records the scope it was asked for
type mockLexical struct {
	mu    sync.Mutex
	hits  []lexical.Hit
	err   error
	scope *types.Namespace
	k     int
}

func (m *mockLexical) Search(ctx context.Context, query string, k int, ns *types.Namespace) ([]lexical.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scope = ns
	m.k = k
	if m.err != nil {
		return nil, m.err
	}
	if k < len(m.hits) {
		return m.hits[:k], nil
	}
	return m.hits, nil
}

// mockChecker treats every id outside missing as present
type mockChecker struct {
	missing map[string]bool
}

func (m *mockChecker) ExistingChunkIDs(ctx context.Context, ids []string, namespaceIDs []int64) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, id := range ids {
		if !m.missing[id] {
			out[id] = true
		}
	}
	return out, nil
}

func semHit(id, source string, score float64) storage.ChunkHit {
	return storage.ChunkHit{
		Chunk:    types.Chunk{ID: id, Source: source, Content: "content of " + id},
		RepoSlug: "acme/api",
		Ref:      "main",
		Score:    score,
	}
}

func lexHit(id, source string, score float64) lexical.Hit {
	return lexical.Hit{DocID: id, Source: source, Content: "content of " + id, RepoID: "acme/api", Ref: "main", Score: score}
}

var testNS = &types.Namespace{ID: 7, RepoSlug: "acme/api", TrackingRef: "main", Status: types.StatusIndexed}

func ids(results []types.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ChunkID
	}
	return out
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want SearchMode
	}{
		{"", SearchModeHybrid},
		{"hybrid", SearchModeHybrid},
		{"VECTOR", SearchModeVector},
		{"keyword", SearchModeKeyword},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseMode("fuzzy")
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestInterleave(t *testing.T) {
	sem := []types.SearchResult{{ChunkID: "a"}, {ChunkID: "b"}, {ChunkID: "c"}}
	lex := []types.SearchResult{{ChunkID: "b", Origin: types.OriginLexical}, {ChunkID: "d"}}

	merged := interleave(sem, lex)
	assert.Equal(t, []string{"a", "b", "d", "c"}, ids(merged))
	// "b" keeps its semantic occurrence, which ranked first
	assert.Empty(t, merged[1].Origin)

	assert.Empty(t, interleave(nil, nil))
	assert.Equal(t, []string{"x"}, ids(interleave(nil, []types.SearchResult{{ChunkID: "x"}})))
}

func TestSearch_HybridMergesAndRanks(t *testing.T) {
	sem := &mockSemantic{hits: []storage.ChunkHit{semHit("s1", "a.go", 0.9), semHit("shared", "b.go", 0.8)}}
	lex := &mockLexical{hits: []lexical.Hit{lexHit("shared", "b.go", 12), lexHit("l1", "c.go", 8)}}
	s := New(sem, lex, &mockChecker{})

	resp, err := s.Search(context.Background(), SearchRequest{
		Query:      "handler",
		Namespaces: []*types.Namespace{testNS},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"s1", "shared", "l1"}, ids(resp.Results))
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
		assert.NoError(t, r.Validate())
	}
	assert.Equal(t, types.OriginSemantic, resp.Results[1].Origin)
	assert.Equal(t, types.OriginLexical, resp.Results[2].Origin)
	assert.Equal(t, SearchModeHybrid, resp.SearchMode)
	assert.Equal(t, 2, resp.VectorResults)
	assert.Equal(t, 2, resp.TextResults)
	assert.Equal(t, 3, resp.TotalResults)
	assert.Equal(t, []int64{7}, sem.nsIDs)
	assert.Same(t, testNS, lex.scope)
}

func TestSearch_DropsStaleLexicalHits(t *testing.T) {
	lex := &mockLexical{hits: []lexical.Hit{lexHit("gone", "old.go", 20), lexHit("kept", "new.go", 10)}}
	s := New(&mockSemantic{}, lex, &mockChecker{missing: map[string]bool{"gone": true}})

	resp, err := s.Search(context.Background(), SearchRequest{
		Query:      "handler",
		Mode:       SearchModeKeyword,
		Namespaces: []*types.Namespace{testNS},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, ids(resp.Results))
	assert.Equal(t, 1, resp.Dropped)
}

func TestSearch_SeveralNamespacesSearchLexicalCorpusWide(t *testing.T) {
	lex := &mockLexical{hits: []lexical.Hit{lexHit("l1", "a.go", 1)}}
	s := New(&mockSemantic{}, lex, &mockChecker{})

	other := &types.Namespace{ID: 8, RepoSlug: "acme/web", TrackingRef: "main"}
	_, err := s.Search(context.Background(), SearchRequest{
		Query:      "handler",
		Mode:       SearchModeKeyword,
		Namespaces: []*types.Namespace{testNS, other},
	})
	require.NoError(t, err)
	assert.Nil(t, lex.scope)
}

func TestSearch_SeveralNamespacesOverFetchLexical(t *testing.T) {
	// The best lexical hits belong to a ref outside the request
	lex := &mockLexical{hits: []lexical.Hit{
		lexHit("other-1", "other.go", 100),
		lexHit("other-2", "other.go", 90),
		lexHit("wanted-1", "a.go", 5),
		lexHit("wanted-2", "b.go", 4),
		lexHit("wanted-3", "c.go", 3),
	}}
	missing := map[string]bool{"other-1": true, "other-2": true}
	s := New(&mockSemantic{}, lex, &mockChecker{missing: missing})

	other := &types.Namespace{ID: 8, RepoSlug: "acme/web", TrackingRef: "main"}
	resp, err := s.Search(context.Background(), SearchRequest{
		Query:      "handler",
		Mode:       SearchModeKeyword,
		Limit:      2,
		Namespaces: []*types.Namespace{testNS, other},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, lex.k)
	assert.Equal(t, []string{"wanted-1", "wanted-2"}, ids(resp.Results))
	assert.Equal(t, 2, resp.Dropped)
}

func TestSearch_OverFetchedLexicalHitsAreTruncated(t *testing.T) {
	lex := &mockLexical{hits: []lexical.Hit{
		lexHit("l1", "a.go", 5),
		lexHit("l2", "b.go", 4),
		lexHit("l3", "c.go", 3),
	}}
	s := New(&mockSemantic{}, lex, &mockChecker{})

	other := &types.Namespace{ID: 8, RepoSlug: "acme/web", TrackingRef: "main"}
	resp, err := s.Search(context.Background(), SearchRequest{
		Query:      "handler",
		Mode:       SearchModeKeyword,
		Limit:      1,
		Namespaces: []*types.Namespace{testNS, other},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, lex.k)
	assert.Equal(t, []string{"l1"}, ids(resp.Results))
}

func TestSearch_OneSideFailing(t *testing.T) {
	sem := &mockSemantic{err: errors.New("embedding provider down")}
	lex := &mockLexical{hits: []lexical.Hit{lexHit("l1", "a.go", 1)}}
	s := New(sem, lex, &mockChecker{})

	req := SearchRequest{Query: "handler", Namespaces: []*types.Namespace{testNS}}
	resp, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"l1"}, ids(resp.Results))

	lex.err = errors.New("index closed")
	_, err = s.Search(context.Background(), req)
	assert.ErrorContains(t, err, "both searches failed")

	req.Mode = SearchModeVector
	_, err = s.Search(context.Background(), req)
	assert.ErrorContains(t, err, "embedding provider down")
}

func TestSearch_Validation(t *testing.T) {
	sem := &mockSemantic{}
	s := New(sem, &mockLexical{}, &mockChecker{})

	_, err := s.Search(context.Background(), SearchRequest{Query: "   "})
	assert.Error(t, err)

	resp, err := s.Search(context.Background(), SearchRequest{Query: "handler"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Zero(t, sem.calls, "no namespaces means no index is consulted")

	req := SearchRequest{Query: "x", Limit: 1000}
	require.NoError(t, s.validateRequest(&req))
	assert.Equal(t, MaxLimit, req.Limit)
	assert.Equal(t, SearchModeHybrid, req.Mode)

	req = SearchRequest{Query: "x"}
	require.NoError(t, s.validateRequest(&req))
	assert.Equal(t, DefaultLimit, req.Limit)
}

func TestSearch_Cache(t *testing.T) {
	sem := &mockSemantic{hits: []storage.ChunkHit{semHit("s1", "a.go", 0.9)}}
	s := New(sem, nil, nil)

	req := SearchRequest{
		Query:      "handler",
		Mode:       SearchModeVector,
		Namespaces: []*types.Namespace{testNS},
		UseCache:   true,
	}
	first, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	// Mutating a returned response must not leak into the cache
	first.Results[0].Content = "mutated"

	second, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, "content of s1", second.Results[0].Content)
	assert.Equal(t, 1, sem.calls)

	s.InvalidateCache()
	third, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
	assert.Equal(t, 2, sem.calls)

	req.UseCache = false
	_, err = s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, sem.calls)
}

func TestSearch_CacheExpires(t *testing.T) {
	sem := &mockSemantic{hits: []storage.ChunkHit{semHit("s1", "a.go", 0.9)}}
	s := New(sem, nil, nil, WithCache(10, 20*time.Millisecond))

	req := SearchRequest{Query: "q", Mode: SearchModeVector, Namespaces: []*types.Namespace{testNS}, UseCache: true}
	_, err := s.Search(context.Background(), req)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	resp, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.CacheHit)
	assert.Equal(t, 2, sem.calls)
}

func TestComputeQueryHash(t *testing.T) {
	a := &types.Namespace{ID: 1}
	b := &types.Namespace{ID: 2}

	base := SearchRequest{Query: "q", Mode: SearchModeHybrid, Limit: 10, Namespaces: []*types.Namespace{a, b}}
	reordered := base
	reordered.Namespaces = []*types.Namespace{b, a}
	assert.Equal(t, computeQueryHash(base), computeQueryHash(reordered))

	changed := []SearchRequest{
		{Query: "other", Mode: SearchModeHybrid, Limit: 10, Namespaces: base.Namespaces},
		{Query: "q", Mode: SearchModeVector, Limit: 10, Namespaces: base.Namespaces},
		{Query: "q", Mode: SearchModeHybrid, Limit: 5, Namespaces: base.Namespaces},
		{Query: "q", Mode: SearchModeHybrid, Limit: 10, Namespaces: []*types.Namespace{a}},
	}
	for _, req := range changed {
		assert.NotEqual(t, computeQueryHash(base), computeQueryHash(req))
	}
}

func TestSearch_EndToEnd(t *testing.T) {
	ctx := context.Background()
	const dim = 64

	store, err := storage.NewSQLiteStorage(ctx, ":memory:", dim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := lexical.NewRegistry(nil)
	t.Cleanup(func() { _ = reg.Close() })
	lex, err := reg.Open(filepath.Join(t.TempDir(), "lexical.db"))
	require.NoError(t, err)

	sem, err := semantic.New(store, embedder.NewLocalProvider(dim, nil))
	require.NoError(t, err)

	repo := &types.RepositoryRef{ExternalID: "1", Slug: "acme/api", ClientKind: types.ClientLocal}
	require.NoError(t, store.UpsertRepository(ctx, repo))
	ns, _, err := store.GetOrCreateNamespace(ctx, repo.ID, "main", "abc")
	require.NoError(t, err)

	chunks, err := sem.Embed(ctx, ns, []types.Document{
		{Source: "marker.py", Content: "UNIQUE_MARKER_42 = True"},
		{Source: "server.go", Content: "func ListenAndServe(addr string) error { return nil }"},
	})
	require.NoError(t, err)

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, sem.Insert(ctx, tx, chunks))
	require.NoError(t, tx.Commit())

	_, err = lex.AddDocuments(ctx, ns, chunks)
	require.NoError(t, err)
	require.NoError(t, lex.Reload(ctx))

	s := New(sem, lex, store)
	resp, err := s.Search(ctx, SearchRequest{
		Query:      "UNIQUE_MARKER_42",
		Limit:      5,
		Namespaces: []*types.Namespace{ns},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	var found bool
	for _, r := range resp.Results {
		if r.Source == "marker.py" {
			found = true
			assert.Greater(t, r.Score, 0.0)
			assert.Equal(t, "acme/api", r.RepoID)
			assert.Equal(t, "main", r.Ref)
		}
	}
	assert.True(t, found)

	// Keyword mode finds exactly the marker chunk
	resp, err = s.Search(ctx, SearchRequest{
		Query:      "UNIQUE_MARKER_42",
		Mode:       SearchModeKeyword,
		Namespaces: []*types.Namespace{ns},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "marker.py", resp.Results[0].Source)
}
