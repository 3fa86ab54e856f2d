package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoindex/internal/config"
	"github.com/dshills/repoindex/internal/indexer"
	"github.com/dshills/repoindex/internal/retrieval"
	"github.com/dshills/repoindex/internal/snapshot"
	"github.com/dshills/repoindex/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	repo := filepath.Join(dir, "repos", "api")
	require.NoError(t, os.MkdirAll(repo, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "auth.go"),
		[]byte("package api\n\n// UNIQUE_MARKER_42\nfunc getUserById(id string) error { return nil }\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"),
		[]byte("# API\n\nHandles billing invoices.\n"), 0o644))

	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(dir, "semantic.db")
	cfg.Lexical.Path = filepath.Join(dir, "lexical.db")
	cfg.Embedding.Dimension = 64
	cfg.Source.Repositories = []snapshot.LocalRepository{{Slug: "acme/api", Path: repo, Topics: []string{"backend"}}}
	require.NoError(t, cfg.Validate())
	return cfg
}

func openTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	e, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func sources(res *retrieval.Result) []string {
	var out []string
	for _, r := range res.Results {
		out = append(out, r.Source)
	}
	return out
}

func TestEngine_UpdateSearchDelete(t *testing.T) {
	e := openTestEngine(t, testConfig(t))
	ctx := context.Background()

	report, err := e.Update(ctx, indexer.UpdateOptions{})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, indexer.OutcomeIndexed, report.Results[0].Outcome)

	res, err := e.Search(ctx, retrieval.Query{Text: "UNIQUE_MARKER_42", RepoID: "acme/api"})
	require.NoError(t, err)
	assert.Contains(t, sources(res), "auth.go")
	for _, r := range res.Results {
		assert.Equal(t, "acme/api", r.RepoID)
		assert.Equal(t, "main", r.Ref)
	}
	assert.Equal(t, 1, res.Iterations)

	// Corpus-wide search without a repository
	res, err = e.Search(ctx, retrieval.Query{Text: "get user by id"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Results)

	status, err := e.Status(ctx, "")
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.Equal(t, "acme/api", status[0].RepoID)
	require.Len(t, status[0].Namespaces, 1)
	assert.Equal(t, string(types.StatusIndexed), status[0].Namespaces[0].Status)
	assert.Equal(t, report.Results[0].Chunks, status[0].Namespaces[0].Chunks)

	deleted, err := e.Delete(ctx, "acme/api", "", false)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	// The cached response was invalidated by the delete
	_, err = e.Search(ctx, retrieval.Query{Text: "UNIQUE_MARKER_42", RepoID: "acme/api"})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestEngine_RebuildLexical(t *testing.T) {
	e := openTestEngine(t, testConfig(t))
	ctx := context.Background()

	report, err := e.Update(ctx, indexer.UpdateOptions{RepoID: "acme/api"})
	require.NoError(t, err)

	n, err := e.RebuildLexical(ctx, "acme/api", "main")
	require.NoError(t, err)
	assert.Equal(t, report.Results[0].Chunks, n)
}

func TestEngine_AugmentNeedsLLM(t *testing.T) {
	e := openTestEngine(t, testConfig(t))

	_, err := e.Update(context.Background(), indexer.UpdateOptions{Augment: true})
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestEngine_ReopenKeepsIndex(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retrieval.Mode = "keyword"
	ctx := context.Background()

	first, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	_, err = first.Update(ctx, indexer.UpdateOptions{})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := openTestEngine(t, cfg)
	res, err := second.Search(ctx, retrieval.Query{Text: "UNIQUE_MARKER_42", RepoID: "acme/api", K: 1})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "auth.go", res.Results[0].Source)
}

func TestEngine_SearchSeesUpdatesFromAnotherEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retrieval.Mode = "keyword"
	ctx := context.Background()

	// reader stays open across the whole test, like a long-running server
	reader := openTestEngine(t, cfg)
	writer := openTestEngine(t, cfg)

	_, err := writer.Update(ctx, indexer.UpdateOptions{})
	require.NoError(t, err)

	res, err := reader.Search(ctx, retrieval.Query{Text: "UNIQUE_MARKER_42", RepoID: "acme/api", K: 1})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "auth.go", res.Results[0].Source)
}

func TestOpen_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, c *config.Config)
	}{
		{"missing embedding key", func(t *testing.T, c *config.Config) {
			t.Setenv("OPENAI_API_KEY", "")
			c.Embedding.Model = "openai/text-embedding-3-small"
		}},
		{"missing rerank key", func(t *testing.T, c *config.Config) {
			t.Setenv("JINA_API_KEY", "")
			c.Rerank.Enabled = true
		}},
		{"missing llm key", func(t *testing.T, c *config.Config) {
			t.Setenv("OPENAI_API_KEY", "")
			c.LLM.Model = "openai"
		}},
		{"github without token or org", func(t *testing.T, c *config.Config) {
			t.Setenv("GITHUB_TOKEN", "")
			c.Source.Kind = config.SourceGitHub
		}},
		{"missing local path", func(t *testing.T, c *config.Config) {
			c.Source.Repositories = []snapshot.LocalRepository{{Slug: "x", Path: filepath.Join(t.TempDir(), "nope")}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(t, cfg)
			_, err := Open(context.Background(), cfg, nil)
			assert.ErrorIs(t, err, types.ErrConfiguration)
		})
	}
}

func TestOpen_DimensionChangeIsRejected(t *testing.T) {
	cfg := testConfig(t)
	e, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	cfg.Embedding.Dimension = 32
	_, err = Open(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}
