package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoindex/internal/searcher"
	"github.com/dshills/repoindex/pkg/types"
)

var mainNS = &types.Namespace{ID: 1, RepositoryID: 10, RepoSlug: "acme/api", TrackingRef: "main", Status: types.StatusIndexed}

// fakeStore knows one repository with one indexed generation
type fakeStore struct{}

func (fakeStore) GetRepositoryBySlug(_ context.Context, slug string) (*types.RepositoryRef, error) {
	if slug != "acme/api" {
		return nil, fmt.Errorf("repository %q: %w", slug, types.ErrNotFound)
	}
	return &types.RepositoryRef{ID: 10, Slug: slug, DefaultBranch: "main"}, nil
}

func (fakeStore) LatestNamespace(_ context.Context, repoID int64, ref string) (*types.Namespace, error) {
	if repoID == 10 && ref == "main" {
		return mainNS, nil
	}
	return nil, fmt.Errorf("ref %q: %w", ref, types.ErrNotFound)
}

func (fakeStore) LatestNamespaces(context.Context) ([]*types.Namespace, error) {
	return []*types.Namespace{
		mainNS,
		{ID: 2, RepositoryID: 11, RepoSlug: "acme/web", TrackingRef: "develop", Status: types.StatusIndexed},
	}, nil
}

// fakeSearcher returns results per query text and records requests
type fakeSearcher struct {
	mu       sync.Mutex
	byQuery  map[string][]types.SearchResult
	fallback []types.SearchResult
	requests []searcher.SearchRequest
	err      error
}

func (f *fakeSearcher) Search(_ context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	results, ok := f.byQuery[req.Query]
	if !ok {
		results = f.fallback
	}
	return &searcher.SearchResponse{Results: append([]types.SearchResult(nil), results...)}, nil
}

type gradeFunc func(chunk types.SearchResult) (bool, error)

func (f gradeFunc) IsRelevant(_ context.Context, _, _ string, chunk types.SearchResult) (bool, error) {
	return f(chunk)
}

// countingRewriter appends a suffix so every rewrite differs
type countingRewriter struct {
	calls atomic.Int32
	err   error
}

func (r *countingRewriter) Rewrite(_ context.Context, query, _ string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	n := r.calls.Add(1)
	return fmt.Sprintf("%s v%d", query, n), nil
}

type reverseReranker struct{ err error }

func (r reverseReranker) Rerank(_ context.Context, _ string, results []types.SearchResult) ([]types.SearchResult, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make([]types.SearchResult, len(results))
	for i, res := range results {
		out[len(results)-1-i] = res
	}
	return out, nil
}

func hits(ids ...string) []types.SearchResult {
	out := make([]types.SearchResult, len(ids))
	for i, id := range ids {
		out[i] = types.SearchResult{ChunkID: id, Rank: i + 1, Source: id + ".go", Content: "content " + id}
	}
	return out
}

func resultIDs(rs []types.SearchResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ChunkID
	}
	return out
}

func TestSearch_RelevantFirstPass(t *testing.T) {
	s := &fakeSearcher{fallback: hits("a", "b", "c")}
	o := New(fakeStore{}, s, WithGrader(gradeFunc(func(c types.SearchResult) (bool, error) {
		return c.ChunkID != "b", nil
	})))

	res, err := o.Search(context.Background(), Query{Text: "auth", RepoID: "acme/api"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "c"}, resultIDs(res.Results))
	assert.Equal(t, 1, res.Results[0].Rank)
	assert.Equal(t, 2, res.Results[1].Rank)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, []State{StateRetrieve, StateGrade, StateEnd}, res.Trace)

	require.Len(t, s.requests, 1)
	assert.Equal(t, []*types.Namespace{mainNS}, s.requests[0].Namespaces)
	assert.Equal(t, DefaultK, s.requests[0].Limit)
	assert.Equal(t, searcher.SearchModeHybrid, s.requests[0].Mode)
}

func TestSearch_BoundedLoopAllIrrelevant(t *testing.T) {
	s := &fakeSearcher{fallback: hits("a", "b")}
	rw := &countingRewriter{}
	var graded atomic.Int32
	o := New(fakeStore{}, s,
		WithRewriter(rw),
		WithGrader(gradeFunc(func(types.SearchResult) (bool, error) {
			graded.Add(1)
			return false, nil
		})))

	res, err := o.Search(context.Background(), Query{Text: "auth"})
	require.NoError(t, err)

	assert.Empty(t, res.Results)
	assert.Equal(t, MaxIterations, res.Iterations)
	assert.Len(t, s.requests, MaxIterations)
	assert.Equal(t, int32(MaxIterations-1), rw.calls.Load())
	assert.Equal(t, int32(2*MaxIterations), graded.Load())
	assert.Equal(t, []string{"auth", "auth v1", "auth v1 v2"}, res.Queries)
	assert.Equal(t, []State{
		StateRetrieve, StateGrade, StateTransformQuery,
		StateRetrieve, StateGrade, StateTransformQuery,
		StateRetrieve, StateGrade, StateEnd,
	}, res.Trace)
}

func TestSearch_EmptyRetrieveRewritesWithoutGrading(t *testing.T) {
	s := &fakeSearcher{byQuery: map[string][]types.SearchResult{"auth v1": hits("x")}}
	o := New(fakeStore{}, s, WithRewriter(&countingRewriter{}),
		WithGrader(gradeFunc(func(c types.SearchResult) (bool, error) { return true, nil })))

	res, err := o.Search(context.Background(), Query{Text: "auth"})
	require.NoError(t, err)

	assert.Equal(t, []string{"x"}, resultIDs(res.Results))
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, []State{StateRetrieve, StateTransformQuery, StateRetrieve, StateGrade, StateEnd}, res.Trace)
}

func TestSearch_AlwaysEmptyStopsAtMax(t *testing.T) {
	s := &fakeSearcher{}
	o := New(fakeStore{}, s, WithRewriter(&countingRewriter{}))

	res, err := o.Search(context.Background(), Query{Text: "nothing"})
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Len(t, s.requests, MaxIterations)
	assert.Equal(t, StateEnd, res.Trace[len(res.Trace)-1])
	assert.NotContains(t, res.Trace, StateGrade)
}

func TestSearch_IdentityRewriterStillTerminates(t *testing.T) {
	s := &fakeSearcher{}
	o := New(fakeStore{}, s)

	res, err := o.Search(context.Background(), Query{Text: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{"q", "q", "q"}, res.Queries)
}

func TestSearch_OracleFailures(t *testing.T) {
	s := &fakeSearcher{fallback: hits("a", "b")}

	o := New(fakeStore{}, s, WithGrader(gradeFunc(func(c types.SearchResult) (bool, error) {
		if c.ChunkID == "b" {
			return false, errors.New("rate limited")
		}
		return true, nil
	})))
	res, err := o.Search(context.Background(), Query{Text: "q"})
	assert.ErrorIs(t, err, types.ErrTransientOracle)
	assert.Nil(t, res)

	o = New(fakeStore{}, &fakeSearcher{},
		WithRewriter(&countingRewriter{err: errors.New("timeout")}))
	_, err = o.Search(context.Background(), Query{Text: "q"})
	assert.ErrorIs(t, err, types.ErrTransientOracle)
}

func TestSearch_RetrieveFailure(t *testing.T) {
	o := New(fakeStore{}, &fakeSearcher{err: errors.New("index closed")})
	_, err := o.Search(context.Background(), Query{Text: "q"})
	assert.ErrorContains(t, err, "index closed")
	assert.NotErrorIs(t, err, types.ErrTransientOracle)
}

func TestSearch_RerankAndTruncate(t *testing.T) {
	s := &fakeSearcher{fallback: hits("a", "b", "c", "d")}

	o := New(fakeStore{}, s, WithReranker(reverseReranker{}))
	res, err := o.Search(context.Background(), Query{Text: "q", K: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c"}, resultIDs(res.Results))
	assert.Equal(t, []int{1, 2}, []int{res.Results[0].Rank, res.Results[1].Rank})

	o = New(fakeStore{}, s, WithReranker(reverseReranker{err: errors.New("down")}))
	res, err = o.Search(context.Background(), Query{Text: "q", K: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, resultIDs(res.Results))
}

func TestSearch_Scope(t *testing.T) {
	tests := []struct {
		name    string
		query   Query
		wantIDs []int64
		wantErr error
	}{
		{"whole corpus", Query{Text: "q"}, []int64{1, 2}, nil},
		{"ref across repositories", Query{Text: "q", Ref: "develop"}, []int64{2}, nil},
		{"repository default branch", Query{Text: "q", RepoID: "acme/api"}, []int64{1}, nil},
		{"repository explicit ref", Query{Text: "q", RepoID: "acme/api", Ref: "main"}, []int64{1}, nil},
		{"unknown repository", Query{Text: "q", RepoID: "acme/missing"}, nil, types.ErrNotFound},
		{"unindexed ref", Query{Text: "q", RepoID: "acme/api", Ref: "feature"}, nil, types.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSearcher{fallback: hits("a")}
			res, err := New(fakeStore{}, s).Search(context.Background(), tt.query)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, s.requests)
				return
			}
			require.NoError(t, err)
			var got []int64
			for _, ns := range res.Namespaces {
				got = append(got, ns.ID)
			}
			assert.Equal(t, tt.wantIDs, got)
		})
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	_, err := New(fakeStore{}, &fakeSearcher{}).Search(context.Background(), Query{Text: "  "})
	assert.Error(t, err)
}

func TestGrade_PreservesOrderUnderConcurrency(t *testing.T) {
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = fmt.Sprintf("c%02d", i)
	}
	o := New(fakeStore{}, &fakeSearcher{}, WithGradeWorkers(4),
		WithGrader(gradeFunc(func(c types.SearchResult) (bool, error) {
			return c.ChunkID[len(c.ChunkID)-1]%2 == 0, nil
		})))

	relevant, err := o.grade(context.Background(), Query{Text: "q"}, hits(ids...))
	require.NoError(t, err)

	var want []string
	for _, id := range ids {
		if id[len(id)-1]%2 == 0 {
			want = append(want, id)
		}
	}
	assert.Equal(t, want, resultIDs(relevant))
}
