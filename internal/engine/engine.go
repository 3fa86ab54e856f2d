package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/repoindex/internal/config"
	"github.com/dshills/repoindex/internal/embedder"
	"github.com/dshills/repoindex/internal/indexer"
	"github.com/dshills/repoindex/internal/lexical"
	"github.com/dshills/repoindex/internal/llm"
	"github.com/dshills/repoindex/internal/loader"
	"github.com/dshills/repoindex/internal/rerank"
	"github.com/dshills/repoindex/internal/retrieval"
	"github.com/dshills/repoindex/internal/searcher"
	"github.com/dshills/repoindex/internal/semantic"
	"github.com/dshills/repoindex/internal/snapshot"
	"github.com/dshills/repoindex/internal/storage"
	"github.com/dshills/repoindex/pkg/types"
)

// Engine wires the stores, indices, retrieval loop and update coordinator
// for one configuration. It is safe for concurrent use.
type Engine struct {
	cfg          *config.Config
	store        storage.Storage
	lexicalReg   *lexical.Registry
	lexical      *lexical.Index
	embedder     embedder.Embedder
	searcher     *searcher.Searcher
	orchestrator *retrieval.Orchestrator
	coordinator  *indexer.Coordinator
	augment      bool
	logger       *zap.Logger
}

// Option configures Open
type Option func(*options)

type options struct {
	provider snapshot.Provider
}

// WithProvider replaces the snapshot provider selected by the configuration
func WithProvider(p snapshot.Provider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// Open builds an engine from cfg. Provider construction errors, unknown
// model keys and missing credentials are ErrConfiguration.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (_ *Engine, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	e.embedder, err = embedder.New(ctx, cfg.EmbedderConfig())
	if err != nil {
		return nil, err
	}

	e.store, err = storage.Open(ctx, storage.Config{
		Driver:    cfg.Storage.Driver,
		Path:      cfg.Storage.Path,
		DSN:       cfg.Storage.DSN,
		Dimension: e.embedder.Dimension(),
	})
	if err != nil {
		return nil, fmt.Errorf("open semantic store: %w", err)
	}

	e.lexicalReg = lexical.NewRegistry(logger.Named("lexical"))
	lex, err := e.lexicalReg.Open(cfg.Lexical.Path)
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}
	e.lexical = lex

	sem, err := semantic.New(e.store, e.embedder, semantic.WithLogger(logger.Named("semantic")))
	if err != nil {
		return nil, err
	}

	provider := o.provider
	if provider == nil {
		provider, err = newProvider(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	mode, err := searcher.ParseMode(cfg.Retrieval.Mode)
	if err != nil {
		return nil, err
	}
	e.searcher = searcher.New(sem, lex, e.store,
		searcher.WithCache(cfg.Retrieval.CacheSize, searcher.DefaultCacheTTL),
		searcher.WithLogger(logger.Named("searcher")))

	retrievalOpts := []retrieval.Option{
		retrieval.WithMode(mode),
		retrieval.WithGradeWorkers(cfg.Retrieval.GradeWorkers),
		retrieval.WithLogger(logger.Named("retrieval")),
	}
	coordinatorOpts := []indexer.Option{
		indexer.WithMaxWorkers(cfg.Indexing.MaxWorkers),
		indexer.WithLoaderOptions(loader.Options{
			Include:      cfg.Indexing.Include,
			Exclude:      cfg.Indexing.Exclude,
			ChunkSize:    cfg.Indexing.ChunkSize,
			ChunkOverlap: cfg.Indexing.ChunkOverlap,
			MaxFileSize:  cfg.Indexing.MaxFileSize,
			Logger:       logger.Named("loader"),
		}),
		indexer.WithOnChange(e.searcher.InvalidateCache),
		indexer.WithLogger(logger.Named("indexer")),
	}

	if cfg.LLM.Model != "" {
		gen, err := llm.New(ctx, cfg.GeneratorConfig())
		if err != nil {
			return nil, err
		}
		retrievalOpts = append(retrievalOpts,
			retrieval.WithGrader(retrieval.NewLLMGrader(gen)),
			retrieval.WithRewriter(retrieval.NewLLMRewriter(gen)))
		coordinatorOpts = append(coordinatorOpts, indexer.WithAugmenter(indexer.NewLLMAugmenter(gen, 0)))
		e.augment = true
	}

	if cfg.Rerank.Enabled {
		rr, err := rerank.NewJina(rerank.Config{
			Model:   cfg.Rerank.Model,
			APIKey:  cfg.Rerank.APIKey,
			BaseURL: cfg.Rerank.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		retrievalOpts = append(retrievalOpts, retrieval.WithReranker(rr))
	}

	e.orchestrator = retrieval.New(e.store, e.searcher, retrievalOpts...)
	e.coordinator = indexer.New(e.store, provider, sem, lex, coordinatorOpts...)

	logger.Info("engine ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("embedder", e.embedder.Provider()+"/"+e.embedder.Model()),
		zap.Int("dimension", e.embedder.Dimension()),
		zap.String("mode", string(mode)),
		zap.Bool("llm", cfg.LLM.Model != ""),
		zap.Bool("rerank", cfg.Rerank.Enabled))
	return e, nil
}

func newProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (snapshot.Provider, error) {
	switch strings.ToLower(cfg.Source.Kind) {
	case config.SourceGitHub:
		gh := cfg.Source.GitHub
		return snapshot.NewGitHub(ctx, snapshot.GitHubConfig{
			Token:             gh.Token,
			BaseURL:           gh.BaseURL,
			Org:               gh.Org,
			IncludeArchived:   gh.IncludeArchived,
			IncludeForks:      gh.IncludeForks,
			RequestsPerSecond: gh.RequestsPerSecond,
			Logger:            logger.Named("github"),
		})
	case config.SourceLocal:
		return snapshot.NewLocal(cfg.Source.Root, cfg.Source.Repositories)
	default:
		return nil, fmt.Errorf("%w: unknown source kind %q", types.ErrConfiguration, cfg.Source.Kind)
	}
}

// Search answers q with the bounded retrieval loop. A zero K uses the
// configured default.
func (e *Engine) Search(ctx context.Context, q retrieval.Query) (*retrieval.Result, error) {
	if q.K <= 0 {
		q.K = e.cfg.Retrieval.K
	}
	// Another process may have updated the index since the last search
	changed, err := e.lexical.Refresh(ctx)
	if err != nil {
		e.logger.Warn("lexical refresh failed", zap.Error(err))
	}
	if changed {
		e.searcher.InvalidateCache()
	}
	return e.orchestrator.Search(ctx, q)
}

// Update refreshes the selected repositories. Augment needs an LLM.
func (e *Engine) Update(ctx context.Context, opts indexer.UpdateOptions) (*indexer.Report, error) {
	if opts.Augment && !e.augment {
		return nil, fmt.Errorf("%w: augmented context needs llm.model to be set", types.ErrConfiguration)
	}
	return e.coordinator.Update(ctx, opts)
}

// Delete removes indexed generations of a repository
func (e *Engine) Delete(ctx context.Context, repoID, ref string, all bool) (int, error) {
	return e.coordinator.Delete(ctx, repoID, ref, all)
}

// RebuildLexical regenerates lexical documents from the semantic store
func (e *Engine) RebuildLexical(ctx context.Context, repoID, ref string) (int, error) {
	return e.coordinator.RebuildLexical(ctx, repoID, ref)
}

// NamespaceStatus describes one indexing generation
type NamespaceStatus struct {
	ID        int64     `json:"id"`
	Ref       string    `json:"ref"`
	SHA       string    `json:"sha"`
	Status    string    `json:"status"`
	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"created_at"`
}

// RepositoryStatus lists a repository's generations, newest first
type RepositoryStatus struct {
	RepoID        string            `json:"repo_id"`
	ClientKind    string            `json:"client_kind"`
	DefaultBranch string            `json:"default_branch"`
	Namespaces    []NamespaceStatus `json:"namespaces"`
}

// Status reports the generations of one repository, or of every known
// repository when repoID is empty
func (e *Engine) Status(ctx context.Context, repoID string) ([]RepositoryStatus, error) {
	var repos []*types.RepositoryRef
	if repoID != "" {
		repo, err := e.store.GetRepositoryBySlug(ctx, repoID)
		if err != nil {
			return nil, err
		}
		repos = []*types.RepositoryRef{repo}
	} else {
		var err error
		repos, err = e.store.ListRepositories(ctx)
		if err != nil {
			return nil, err
		}
	}

	out := make([]RepositoryStatus, 0, len(repos))
	for _, repo := range repos {
		namespaces, err := e.store.ListNamespaces(ctx, repo.ID, "")
		if err != nil {
			return nil, err
		}
		rs := RepositoryStatus{
			RepoID:        repo.Slug,
			ClientKind:    string(repo.ClientKind),
			DefaultBranch: repo.DefaultBranch,
			Namespaces:    make([]NamespaceStatus, 0, len(namespaces)),
		}
		for _, ns := range namespaces {
			chunks, err := e.store.CountChunks(ctx, ns.ID)
			if err != nil {
				return nil, err
			}
			rs.Namespaces = append(rs.Namespaces, NamespaceStatus{
				ID:        ns.ID,
				Ref:       ns.TrackingRef,
				SHA:       ns.SHA,
				Status:    string(ns.Status),
				Chunks:    chunks,
				CreatedAt: ns.CreatedAt,
			})
		}
		out = append(out, rs)
	}
	return out, nil
}

// Close releases the stores and the embedding provider
func (e *Engine) Close() error {
	var errs []error
	if e.lexicalReg != nil {
		errs = append(errs, e.lexicalReg.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	if e.embedder != nil {
		errs = append(errs, e.embedder.Close())
	}
	return errors.Join(errs...)
}
