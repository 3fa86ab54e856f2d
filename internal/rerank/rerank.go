package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dshills/repoindex/pkg/types"
)

// Hosted endpoint and default model
const (
	JinaBaseURL      = "https://api.jina.ai/v1"
	DefaultJinaModel = "jina-reranker-v2-base-multilingual"
	EnvJinaAPIKey    = "JINA_API_KEY"
)

// Config configures a Jina reranker
type Config struct {
	Model   string
	APIKey  string // Falls back to JINA_API_KEY
	BaseURL string
	Timeout time.Duration
}

// Jina re-orders results with the Jina /rerank cross-encoder API
type Jina struct {
	model      string
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// NewJina creates a reranker. A missing API key is a configuration error.
func NewJina(cfg Config) (*Jina, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(EnvJinaAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: no API key for jina rerank (set %s)", types.ErrConfiguration, EnvJinaAPIKey)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultJinaModel
	}
	base := cfg.BaseURL
	if base == "" {
		base = JinaBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Jina{
		model:      model,
		apiKey:     apiKey,
		endpoint:   strings.TrimRight(base, "/") + "/rerank",
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Rerank scores every (query, content) pair and returns the results ordered
// by that score, re-ranked from 1. Results the API does not score keep their
// relative order after the scored ones.
func (j *Jina) Rerank(ctx context.Context, query string, results []types.SearchResult) ([]types.SearchResult, error) {
	if len(results) == 0 {
		return results, nil
	}

	docs := make([]string, len(results))
	for i, r := range results {
		docs[i] = r.Content
	}
	data, err := json.Marshal(rerankRequest{Model: j.model, Query: query, Documents: docs, TopN: len(docs)})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+j.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rerank request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	return reorder(results, out), nil
}

func reorder(results []types.SearchResult, out rerankResponse) []types.SearchResult {
	scored := make([]bool, len(results))
	ordered := make([]types.SearchResult, 0, len(results))

	sort.SliceStable(out.Results, func(a, b int) bool {
		return out.Results[a].RelevanceScore > out.Results[b].RelevanceScore
	})
	for _, r := range out.Results {
		if r.Index < 0 || r.Index >= len(results) || scored[r.Index] {
			continue
		}
		scored[r.Index] = true
		hit := results[r.Index]
		hit.Score = r.RelevanceScore
		ordered = append(ordered, hit)
	}
	for i, r := range results {
		if !scored[i] {
			ordered = append(ordered, r)
		}
	}

	for i := range ordered {
		ordered[i].Rank = i + 1
	}
	return ordered
}
