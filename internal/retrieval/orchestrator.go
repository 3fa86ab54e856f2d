package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/repoindex/internal/searcher"
	"github.com/dshills/repoindex/pkg/types"
)

// MaxIterations caps the retrieve calls of one query. It is the only
// termination guarantee of the loop.
const MaxIterations = 3

// Defaults
const (
	DefaultK            = 10
	DefaultGradeWorkers = 8
)

// State is a node of the retrieval state machine
type State string

const (
	StateRetrieve       State = "RETRIEVE"
	StateGrade          State = "GRADE"
	StateTransformQuery State = "TRANSFORM_QUERY"
	StateEnd            State = "END"
)

// Query is one top-level retrieval request. RepoID is a repository slug; an
// empty RepoID searches every repository. Never persisted.
type Query struct {
	Text   string
	Intent string
	RepoID string
	Ref    string
	K      int
}

// Result is the outcome of a retrieval
type Result struct {
	Results    []types.SearchResult
	Iterations int      // Retrieve calls made
	Queries    []string // Working query of every retrieve, in order
	Trace      []State  // States visited, END included
	Namespaces []*types.Namespace
	Duration   time.Duration
}

// Searcher runs one retrieve pass
type Searcher interface {
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
}

// NamespaceStore resolves a query scope to indexed generations
type NamespaceStore interface {
	GetRepositoryBySlug(ctx context.Context, slug string) (*types.RepositoryRef, error)
	LatestNamespace(ctx context.Context, repositoryID int64, trackingRef string) (*types.Namespace, error)
	LatestNamespaces(ctx context.Context) ([]*types.Namespace, error)
}

// Orchestrator answers queries with a bounded retrieve, grade and rewrite loop
type Orchestrator struct {
	store        NamespaceStore
	searcher     Searcher
	grader       RelevanceOracle
	rewriter     RewriteOracle
	reranker     Reranker
	mode         searcher.SearchMode
	gradeWorkers int
	logger       *zap.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithGrader sets the relevance oracle. The default keeps every candidate.
func WithGrader(g RelevanceOracle) Option {
	return func(o *Orchestrator) { o.grader = g }
}

// WithRewriter sets the rewrite oracle. The default keeps the query unchanged.
func WithRewriter(r RewriteOracle) Option {
	return func(o *Orchestrator) { o.rewriter = r }
}

// WithReranker enables a reranking pass before results are truncated
func WithReranker(r Reranker) Option {
	return func(o *Orchestrator) { o.reranker = r }
}

// WithMode selects which indices are consulted
func WithMode(mode searcher.SearchMode) Option {
	return func(o *Orchestrator) { o.mode = mode }
}

// WithGradeWorkers bounds the concurrent relevance calls of one grade pass
func WithGradeWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.gradeWorkers = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates an Orchestrator
func New(store NamespaceStore, s Searcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		searcher:     s,
		grader:       AcceptAll{},
		rewriter:     IdentityRewriter{},
		mode:         searcher.SearchModeHybrid,
		gradeWorkers: DefaultGradeWorkers,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Search runs the state machine for q. An oracle failure fails the whole
// search with ErrTransientOracle; no partial results are returned.
func (o *Orchestrator) Search(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()
	if strings.TrimSpace(q.Text) == "" {
		return nil, errors.New("query cannot be empty")
	}
	if q.K <= 0 {
		q.K = DefaultK
	}

	namespaces, err := o.resolveNamespaces(ctx, q)
	if err != nil {
		return nil, err
	}

	res := &Result{Namespaces: namespaces}
	working := q.Text
	var candidates, relevant []types.SearchResult

	state := StateRetrieve
	for state != StateEnd {
		res.Trace = append(res.Trace, state)
		o.logger.Debug("retrieval state",
			zap.String("state", string(state)),
			zap.Int("iteration", res.Iterations),
			zap.String("query", working))

		switch state {
		case StateRetrieve:
			candidates, err = o.retrieve(ctx, working, q.K, namespaces)
			if err != nil {
				return nil, err
			}
			res.Iterations++
			res.Queries = append(res.Queries, working)
			relevant = nil
			state = StateGrade
			if len(candidates) == 0 {
				state = o.afterMiss(res.Iterations)
			}

		case StateGrade:
			relevant, err = o.grade(ctx, q, candidates)
			if err != nil {
				return nil, err
			}
			state = StateEnd
			if len(relevant) == 0 {
				state = o.afterMiss(res.Iterations)
			}

		case StateTransformQuery:
			rewritten, err := o.rewriter.Rewrite(ctx, working, q.Intent)
			if err != nil {
				return nil, fmt.Errorf("%w: rewrite: %v", types.ErrTransientOracle, err)
			}
			working = rewritten
			state = StateRetrieve
		}
	}
	res.Trace = append(res.Trace, StateEnd)

	res.Results = o.finish(ctx, q, relevant)
	res.Duration = time.Since(start)
	return res, nil
}

// afterMiss decides where an empty retrieve or grade pass goes
func (o *Orchestrator) afterMiss(iterations int) State {
	if iterations < MaxIterations {
		return StateTransformQuery
	}
	return StateEnd
}

func (o *Orchestrator) retrieve(ctx context.Context, text string, k int, namespaces []*types.Namespace) ([]types.SearchResult, error) {
	resp, err := o.searcher.Search(ctx, searcher.SearchRequest{
		Query:      text,
		Limit:      k,
		Mode:       o.mode,
		Namespaces: namespaces,
		UseCache:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	return resp.Results, nil
}

// grade asks the relevance oracle about every candidate concurrently and
// keeps the relevant ones in their retrieved order. Candidates are judged
// against the caller's query, not the rewritten one.
func (o *Orchestrator) grade(ctx context.Context, q Query, candidates []types.SearchResult) ([]types.SearchResult, error) {
	keep := make([]bool, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.gradeWorkers)
	for i := range candidates {
		g.Go(func() error {
			ok, err := o.grader.IsRelevant(gctx, q.Text, q.Intent, candidates[i])
			if err != nil {
				return fmt.Errorf("%w: grade %s: %v", types.ErrTransientOracle, candidates[i].ChunkID, err)
			}
			keep[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var relevant []types.SearchResult
	for i, c := range candidates {
		if keep[i] {
			relevant = append(relevant, c)
		}
	}
	return relevant, nil
}

// finish reranks when configured, truncates to K and renumbers ranks
func (o *Orchestrator) finish(ctx context.Context, q Query, results []types.SearchResult) []types.SearchResult {
	if o.reranker != nil && len(results) > 1 {
		reranked, err := o.reranker.Rerank(ctx, q.Text, results)
		if err != nil {
			o.logger.Warn("rerank failed, keeping merged order", zap.Error(err))
		} else {
			results = reranked
		}
	}
	if len(results) > q.K {
		results = results[:q.K]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

// resolveNamespaces maps the query scope to the latest INDEXED generations.
// A named repository without one is ErrNotFound.
func (o *Orchestrator) resolveNamespaces(ctx context.Context, q Query) ([]*types.Namespace, error) {
	if q.RepoID == "" {
		namespaces, err := o.store.LatestNamespaces(ctx)
		if err != nil {
			return nil, fmt.Errorf("list indexed namespaces: %w", err)
		}
		if q.Ref == "" {
			return namespaces, nil
		}
		var scoped []*types.Namespace
		for _, ns := range namespaces {
			if ns.TrackingRef == q.Ref {
				scoped = append(scoped, ns)
			}
		}
		return scoped, nil
	}

	repo, err := o.store.GetRepositoryBySlug(ctx, q.RepoID)
	if err != nil {
		return nil, err
	}
	ns, err := o.store.LatestNamespace(ctx, repo.ID, repo.RefOrDefault(q.Ref))
	if err != nil {
		return nil, err
	}
	return []*types.Namespace{ns}, nil
}
