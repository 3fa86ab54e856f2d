package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoindex/pkg/types"
)

func results(ids ...string) []types.SearchResult {
	out := make([]types.SearchResult, len(ids))
	for i, id := range ids {
		out[i] = types.SearchResult{ChunkID: id, Rank: i + 1, Content: "content " + id, Source: id + ".go"}
	}
	return out
}

func chunkIDs(rs []types.SearchResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ChunkID
	}
	return out
}

func TestNewJina_RequiresKey(t *testing.T) {
	t.Setenv(EnvJinaAPIKey, "")
	_, err := NewJina(Config{})
	assert.ErrorIs(t, err, types.ErrConfiguration)

	t.Setenv(EnvJinaAPIKey, "jina-key")
	r, err := NewJina(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultJinaModel, r.model)
	assert.Equal(t, JinaBaseURL+"/rerank", r.endpoint)
}

func TestJina_Rerank(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req rerankRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "auth middleware", req.Query)
		assert.Equal(t, []string{"content a", "content b", "content c"}, req.Documents)
		assert.Equal(t, 3, req.TopN)

		_, _ = w.Write([]byte(`{"results":[
			{"index":2,"relevance_score":0.9},
			{"index":0,"relevance_score":0.4}
		]}`))
	}))
	defer server.Close()

	r, err := NewJina(Config{APIKey: "key", BaseURL: server.URL})
	require.NoError(t, err)

	out, err := r.Rerank(context.Background(), "auth middleware", results("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, chunkIDs(out))
	assert.Equal(t, 0.9, out[0].Score)
	for i, res := range out {
		assert.Equal(t, i+1, res.Rank)
	}
}

func TestJina_RerankEmptyAndFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	r, err := NewJina(Config{APIKey: "key", BaseURL: server.URL})
	require.NoError(t, err)

	out, err := r.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = r.Rerank(context.Background(), "q", results("a"))
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestReorder_IgnoresBadIndices(t *testing.T) {
	var resp rerankResponse
	require.NoError(t, json.Unmarshal([]byte(`{"results":[
		{"index":5,"relevance_score":1},
		{"index":1,"relevance_score":0.5},
		{"index":1,"relevance_score":0.4}
	]}`), &resp))

	out := reorder(results("a", "b"), resp)
	assert.Equal(t, []string{"b", "a"}, chunkIDs(out))
}
