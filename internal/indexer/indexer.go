package indexer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/repoindex/internal/loader"
	"github.com/dshills/repoindex/internal/semantic"
	"github.com/dshills/repoindex/internal/snapshot"
	"github.com/dshills/repoindex/internal/storage"
	"github.com/dshills/repoindex/pkg/types"
)

// DefaultMaxWorkers is the number of repositories updated in parallel
const DefaultMaxWorkers = 4

// ErrBusy is returned when another update of the same repository is running
var ErrBusy = errors.New("repository update already in progress")

// LexicalWriter is the write side of the lexical index
type LexicalWriter interface {
	AddDocuments(ctx context.Context, ns *types.Namespace, chunks []types.Chunk) (int, error)
	DeleteDocuments(ctx context.Context, ns *types.Namespace, sources []string) (int, error)
	Delete(ctx context.Context, ns *types.Namespace) (int, error)
	DeleteByIDs(ctx context.Context, ids []string) (int, error)
	Reload(ctx context.Context) error
}

// Outcome summarises what an update did to one repository
type Outcome string

const (
	OutcomeIndexed  Outcome = "indexed"
	OutcomeUpToDate Outcome = "up-to-date"
	OutcomeFailed   Outcome = "failed"
	OutcomeBusy     Outcome = "busy"
)

// UpdateOptions selects the repositories to update and how
type UpdateOptions struct {
	RepoID     string   // Update only this repository; Topics and Exclude are ignored
	Ref        string   // Tracking ref; empty means each repository's default branch
	Topics     []string // Repositories carrying any of these topics; empty selects all
	Exclude    []string // Repository slugs to skip
	MaxWorkers int
	Reset      bool // Drop the ref's existing generations first
	ResetAll   bool // Drop every generation of the repository first
	Augment    bool // Add generated descriptions before embedding
}

// Result is the outcome for one repository
type Result struct {
	RepoID      string
	Ref         string
	NamespaceID int64
	Outcome     Outcome
	Chunks      int
	Err         error
	Duration    time.Duration
}

// Report collects the per-repository results of an update
type Report struct {
	Results  []Result
	Duration time.Duration
}

// Failed returns the number of repositories whose update failed
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			n++
		}
	}
	return n
}

// Err joins the errors of every failed repository
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.RepoID, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Coordinator keeps both indices in step with repository snapshots. Every
// repository is updated in isolation: a failure marks its namespace FAILED
// and never affects siblings.
type Coordinator struct {
	store      storage.Storage
	provider   snapshot.Provider
	semantic   *semantic.Index
	lexical    LexicalWriter
	loaderOpts loader.Options
	augmenter  Augmenter
	maxWorkers int
	onChange   func()
	locks      *lockTable
	logger     *zap.Logger
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLoaderOptions sets the include/exclude globs and chunking parameters
func WithLoaderOptions(opts loader.Options) Option {
	return func(c *Coordinator) {
		c.loaderOpts = opts
	}
}

// WithAugmenter enables UpdateOptions.Augment
func WithAugmenter(a Augmenter) Option {
	return func(c *Coordinator) {
		c.augmenter = a
	}
}

// WithMaxWorkers sets the pool size used when UpdateOptions.MaxWorkers is zero
func WithMaxWorkers(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxWorkers = n
		}
	}
}

// WithOnChange registers a callback run after any write, e.g. to drop
// cached search responses
func WithOnChange(fn func()) Option {
	return func(c *Coordinator) {
		c.onChange = fn
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a coordinator
func New(store storage.Storage, provider snapshot.Provider, sem *semantic.Index, lex LexicalWriter, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		provider:   provider,
		semantic:   sem,
		lexical:    lex,
		loaderOpts: loader.DefaultOptions(),
		maxWorkers: DefaultMaxWorkers,
		locks:      newLockTable(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.loaderOpts.Logger == nil {
		c.loaderOpts.Logger = c.logger
	}
	return c
}

// Update indexes the selected repositories with a bounded worker pool.
// Per-repository failures are reported in the Report; the returned error is
// set when the targets cannot be resolved, or when the single repository
// named by RepoID failed.
func (c *Coordinator) Update(ctx context.Context, opts UpdateOptions) (*Report, error) {
	start := time.Now()

	targets, err := c.resolveTargets(ctx, opts)
	if err != nil {
		return nil, err
	}

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = c.maxWorkers
	}

	report := &Report{Results: make([]Result, len(targets))}

	// A plain Group: one repository failing must not cancel the others
	var g errgroup.Group
	g.SetLimit(workers)
	for i, repo := range targets {
		g.Go(func() error {
			report.Results[i] = c.updateRepository(ctx, repo, opts)
			return nil
		})
	}
	_ = g.Wait()

	c.afterWrite(ctx)
	report.Duration = time.Since(start)

	c.logger.Info("update finished",
		zap.Int("repositories", len(targets)),
		zap.Int("failed", report.Failed()),
		zap.Int("workers", workers),
		zap.Duration("duration", report.Duration))

	if opts.RepoID != "" && len(report.Results) == 1 && report.Results[0].Err != nil {
		return report, report.Results[0].Err
	}
	return report, nil
}

// resolveTargets returns the named repository, or every listed repository
// carrying one of the topics minus the excluded ones
func (c *Coordinator) resolveTargets(ctx context.Context, opts UpdateOptions) ([]*types.RepositoryRef, error) {
	if opts.RepoID != "" {
		repo, err := c.provider.GetRepository(ctx, opts.RepoID)
		if err != nil {
			return nil, fmt.Errorf("resolve repository %s: %w", opts.RepoID, err)
		}
		return []*types.RepositoryRef{repo}, nil
	}

	repos, err := c.provider.ListRepositories(ctx, opts.Topics)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	targets := make([]*types.RepositoryRef, 0, len(repos))
	for _, r := range repos {
		if slices.Contains(opts.Exclude, r.Slug) {
			continue
		}
		targets = append(targets, r)
	}
	return targets, nil
}

func (c *Coordinator) updateRepository(ctx context.Context, repo *types.RepositoryRef, opts UpdateOptions) Result {
	start := time.Now()
	res := Result{RepoID: repo.Slug, Ref: repo.RefOrDefault(opts.Ref)}
	logger := c.logger.With(zap.String("repo", res.RepoID), zap.String("ref", res.Ref))

	release, ok := c.locks.tryAcquire(repo.Slug)
	if !ok {
		res.Outcome = OutcomeBusy
		res.Err = ErrBusy
		logger.Warn("repository skipped", zap.Error(ErrBusy))
		return res
	}
	defer release()

	ns, chunks, err := c.sync(ctx, repo, res.Ref, opts, logger)
	res.Duration = time.Since(start)
	if ns != nil {
		res.NamespaceID = ns.ID
	}
	switch {
	case err != nil:
		res.Outcome = OutcomeFailed
		res.Err = err
		logger.Error("repository update failed", zap.Error(err), zap.Duration("duration", res.Duration))
	case chunks < 0:
		res.Outcome = OutcomeUpToDate
		logger.Info("repository up to date", zap.Stringer("namespace", ns))
	default:
		res.Outcome = OutcomeIndexed
		res.Chunks = chunks
		logger.Info("repository indexed",
			zap.Stringer("namespace", ns),
			zap.Int("chunks", chunks),
			zap.Duration("duration", res.Duration))
	}
	return res
}

// sync brings one repository's ref up to date. It returns -1 chunks when an
// INDEXED generation already exists.
//
// With Reset or ResetAll a new generation is always created and the old ones
// are deleted in the same transaction that marks it INDEXED, so a failed
// rebuild leaves the previous generation in place.
func (c *Coordinator) sync(ctx context.Context, repo *types.RepositoryRef, ref string, opts UpdateOptions, logger *zap.Logger) (*types.Namespace, int, error) {
	if err := c.store.UpsertRepository(ctx, repo); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", types.ErrIndexWrite, err)
	}

	var old *generations
	switch {
	case opts.ResetAll:
		g, err := c.collectGenerations(ctx, repo, "")
		if err != nil {
			return nil, 0, err
		}
		old = g
	case opts.Reset:
		g, err := c.collectGenerations(ctx, repo, ref)
		if err != nil {
			return nil, 0, err
		}
		old = g
	}

	snap, err := c.provider.Acquire(ctx, repo, ref)
	if err != nil {
		return nil, 0, fmt.Errorf("acquire snapshot: %w", err)
	}
	defer func() {
		if err := snap.Close(); err != nil {
			logger.Warn("failed to release snapshot", zap.Error(err))
		}
	}()

	var ns *types.Namespace
	if old != nil {
		ns, err = c.store.CreateNamespace(ctx, repo.ID, ref, snap.SHA)
	} else {
		var created bool
		ns, created, err = c.store.GetOrCreateNamespace(ctx, repo.ID, ref, snap.SHA)
		if err == nil && !created {
			return ns, -1, nil
		}
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", types.ErrIndexWrite, err)
	}

	chunks, err := c.index(ctx, ns, snap.Dir, opts.Augment, old)
	if err != nil {
		// The namespace must not stay PENDING or INDEXING, even when ctx is done
		if serr := c.store.SetNamespaceStatus(context.WithoutCancel(ctx), ns.ID, types.StatusFailed); serr != nil {
			logger.Error("failed to mark namespace failed", zap.Stringer("namespace", ns), zap.Error(serr))
		}
		ns.Status = types.StatusFailed
		return ns, 0, err
	}
	ns.Status = types.StatusIndexed
	return ns, chunks, nil
}

// generations are the namespaces a reset replaces, with the chunk ids their
// lexical documents carry
type generations struct {
	namespaces []*types.Namespace
	chunkIDs   []string
}

func (c *Coordinator) collectGenerations(ctx context.Context, repo *types.RepositoryRef, ref string) (*generations, error) {
	namespaces, err := c.store.ListNamespaces(ctx, repo.ID, ref)
	if err != nil {
		return nil, err
	}
	g := &generations{namespaces: namespaces}
	for _, ns := range namespaces {
		chunks, err := c.store.ListChunks(ctx, ns.ID)
		if err != nil {
			return nil, err
		}
		for i := range chunks {
			g.chunkIDs = append(g.chunkIDs, chunks[i].ID)
		}
	}
	return g, nil
}

// index fills a PENDING namespace. INDEXED is committed together with the
// semantic chunks and only after the lexical write succeeded. The replaced
// generations are deleted in that same transaction; their lexical documents
// are removed once it committed.
func (c *Coordinator) index(ctx context.Context, ns *types.Namespace, dir string, augment bool, old *generations) (int, error) {
	if err := c.store.SetNamespaceStatus(ctx, ns.ID, types.StatusIndexing); err != nil {
		return 0, err
	}

	docs, err := loader.LoadAndSplit(ctx, dir, c.loaderOpts)
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	if augment && c.augmenter != nil {
		docs, err = c.augmenter.Augment(ctx, docs)
		if err != nil {
			return 0, fmt.Errorf("augment chunks: %w", err)
		}
	}

	chunks, err := c.semantic.Embed(ctx, ns, docs)
	if err != nil {
		return 0, err
	}

	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: begin transaction: %w", types.ErrIndexWrite, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := c.semantic.Insert(ctx, tx, chunks); err != nil {
		return 0, err
	}

	if _, err := c.lexical.AddDocuments(ctx, ns, chunks); err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			c.rollbackLexical(ctx, ns, chunks)
		}
	}()

	if old != nil {
		for _, stale := range old.namespaces {
			if err := tx.DeleteNamespace(ctx, stale.ID); err != nil {
				return 0, fmt.Errorf("%w: %w", types.ErrIndexWrite, err)
			}
		}
	}
	if err := tx.SetNamespaceStatus(ctx, ns.ID, types.StatusIndexed); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit namespace %d: %w", types.ErrIndexWrite, ns.ID, err)
	}
	committed = true

	if old != nil && len(old.chunkIDs) > 0 {
		// Leftovers are invisible: the searcher drops ids without a semantic row
		if _, err := c.lexical.DeleteByIDs(context.WithoutCancel(ctx), old.chunkIDs); err != nil {
			c.logger.Warn("failed to remove replaced lexical documents",
				zap.Stringer("namespace", ns),
				zap.Error(err))
		}
	}
	return len(chunks), nil
}

// rollbackLexical removes lexical documents whose semantic rows never
// committed. Failure leaves stale ids the searcher already filters out.
func (c *Coordinator) rollbackLexical(ctx context.Context, ns *types.Namespace, chunks []types.Chunk) {
	ids := make([]string, 0, len(chunks))
	for i := range chunks {
		ids = append(ids, chunks[i].ID)
	}
	if _, err := c.lexical.DeleteByIDs(context.WithoutCancel(ctx), ids); err != nil {
		c.logger.Warn("failed to remove uncommitted lexical documents",
			zap.Stringer("namespace", ns),
			zap.Error(err))
	}
}

// deleteRef deletes every generation of one tracking ref from both indices
func (c *Coordinator) deleteRef(ctx context.Context, repo *types.RepositoryRef, ref string) (int, error) {
	namespaces, err := c.store.ListNamespaces(ctx, repo.ID, ref)
	if err != nil {
		return 0, err
	}
	for _, ns := range namespaces {
		sources, err := c.store.ListSources(ctx, ns.ID)
		if err != nil {
			return 0, err
		}
		if _, err := c.lexical.DeleteDocuments(ctx, ns, sources); err != nil {
			return 0, err
		}
		if err := c.store.DeleteNamespace(ctx, ns.ID); err != nil {
			return 0, fmt.Errorf("%w: %w", types.ErrIndexWrite, err)
		}
	}
	c.logger.Debug("tracking ref deleted",
		zap.String("repo", repo.Slug),
		zap.String("ref", ref),
		zap.Int("namespaces", len(namespaces)))
	return len(namespaces), nil
}

// deleteRepository deletes every generation of the repository from both indices
func (c *Coordinator) deleteRepository(ctx context.Context, repo *types.RepositoryRef) (int, error) {
	namespaces, err := c.store.ListNamespaces(ctx, repo.ID, "")
	if err != nil {
		return 0, err
	}
	if _, err := c.lexical.Delete(ctx, &types.Namespace{RepositoryID: repo.ID, RepoSlug: repo.Slug}); err != nil {
		return 0, err
	}
	for _, ns := range namespaces {
		if err := c.store.DeleteNamespace(ctx, ns.ID); err != nil {
			return 0, fmt.Errorf("%w: %w", types.ErrIndexWrite, err)
		}
	}
	c.logger.Debug("repository deleted",
		zap.String("repo", repo.Slug),
		zap.Int("namespaces", len(namespaces)))
	return len(namespaces), nil
}

// Delete removes a repository's generations of ref, or of every ref when
// all is set, and returns the number of namespaces deleted
func (c *Coordinator) Delete(ctx context.Context, repoID, ref string, all bool) (int, error) {
	repo, err := c.store.GetRepositoryBySlug(ctx, repoID)
	if err != nil {
		return 0, err
	}

	release, ok := c.locks.tryAcquire(repo.Slug)
	if !ok {
		return 0, fmt.Errorf("%s: %w", repo.Slug, ErrBusy)
	}
	defer release()

	var n int
	if all {
		n, err = c.deleteRepository(ctx, repo)
	} else {
		n, err = c.deleteRef(ctx, repo, repo.RefOrDefault(ref))
	}
	c.afterWrite(ctx)
	return n, err
}

// RebuildLexical rewrites the lexical documents of the latest INDEXED
// namespaces from the semantic store. An empty repoID rebuilds every
// repository; an empty ref every ref.
func (c *Coordinator) RebuildLexical(ctx context.Context, repoID, ref string) (int, error) {
	namespaces, err := c.store.LatestNamespaces(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, ns := range namespaces {
		if (repoID != "" && ns.RepoSlug != repoID) || (ref != "" && ns.TrackingRef != ref) {
			continue
		}
		chunks, err := c.store.ListChunks(ctx, ns.ID)
		if err != nil {
			return total, err
		}
		sources, err := c.store.ListSources(ctx, ns.ID)
		if err != nil {
			return total, err
		}
		if _, err := c.lexical.DeleteDocuments(ctx, ns, sources); err != nil {
			return total, err
		}
		n, err := c.lexical.AddDocuments(ctx, ns, chunks)
		if err != nil {
			return total, err
		}
		total += n
		c.logger.Info("lexical documents rebuilt", zap.Stringer("namespace", ns), zap.Int("documents", n))
	}

	c.afterWrite(ctx)
	return total, nil
}

// afterWrite publishes committed lexical writes to readers
func (c *Coordinator) afterWrite(ctx context.Context) {
	if err := c.lexical.Reload(ctx); err != nil {
		c.logger.Warn("failed to reload lexical index", zap.Error(err))
	}
	if c.onChange != nil {
		c.onChange()
	}
}
