package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Endpoints of the hosted OpenAI-compatible embedding APIs
const (
	OpenAIBaseURL = "https://api.openai.com/v1"
	JinaBaseURL   = "https://api.jina.ai/v1"
)

// Batch limits
const (
	DefaultBatchSize = 50
	MaxBatchSize     = 100
)

// HTTPConfig configures an HTTPProvider
type HTTPConfig struct {
	Kind      ProviderKind
	Model     string
	APIKey    string
	BaseURL   string // Defaults to the hosted endpoint of Kind
	Dimension int
	Reduced   bool // Ask the API for Dimension instead of the model's native size
	Timeout   time.Duration
	Limiter   *rate.Limiter
}

// HTTPProvider implements Embedder against the OpenAI /embeddings wire format,
// which the OpenAI and Jina APIs both speak
type HTTPProvider struct {
	cfg        HTTPConfig
	endpoint   string
	httpClient *http.Client
	cache      *Cache
}

// NewHTTPProvider creates an embedder for an OpenAI-compatible endpoint
func NewHTTPProvider(cfg HTTPConfig, cache *Cache) *HTTPProvider {
	base := cfg.BaseURL
	if base == "" {
		base = OpenAIBaseURL
		if cfg.Kind == KindJina {
			base = JinaBaseURL
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &HTTPProvider{
		cfg:      cfg,
		endpoint: strings.TrimRight(base, "/") + "/embeddings",
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cache: cache,
	}
}

func (p *HTTPProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return embedSingle(ctx, p, req)
}

func (p *HTTPProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	embeddings, err := cachedBatch(ctx, p.cache, string(p.cfg.Kind), p.cfg.Model, p.cfg.Dimension, req.Texts,
		func(ctx context.Context, texts []string) ([][]float32, error) {
			vectors, err := retryWithBackoff(ctx, DefaultRetryConfig(), func() ([][]float32, error) {
				if err := waitLimiter(ctx, p.cfg.Limiter); err != nil {
					return nil, err
				}
				return p.callAPI(ctx, texts)
			})
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrProviderFailed, p.cfg.Kind, err)
			}
			return vectors, nil
		})
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   string(p.cfg.Kind),
		Model:      p.cfg.Model,
	}, nil
}

type embeddingRequestBody struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponseBody struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (p *HTTPProvider) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embeddingRequestBody{Input: texts, Model: p.cfg.Model}
	if p.cfg.Reduced {
		reqBody.Dimensions = p.cfg.Dimension
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, err
		}
		return nil, permanent(err)
	}

	var apiResp embeddingResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// The API may return entries out of order
	sort.Slice(apiResp.Data, func(i, j int) bool { return apiResp.Data[i].Index < apiResp.Data[j].Index })
	vectors := make([][]float32, len(apiResp.Data))
	for i, data := range apiResp.Data {
		vectors[i] = data.Embedding
	}
	return vectors, nil
}

func (p *HTTPProvider) Dimension() int {
	return p.cfg.Dimension
}

func (p *HTTPProvider) Provider() string {
	return string(p.cfg.Kind)
}

func (p *HTTPProvider) Model() string {
	return p.cfg.Model
}

func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
