package embedder

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/dshills/repoindex/pkg/types"
)

// Environment variables consulted when Config.APIKey is empty
const (
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvGoogleAPIKey = "GOOGLE_API_KEY"
)

// Config holds embedder configuration
type Config struct {
	Model             string // "<provider>/<model>", e.g. "openai/text-embedding-3-small"
	APIKey            string
	BaseURL           string // Overrides the provider endpoint (OpenAI-compatible servers, tests)
	Dimension         int    // Required for models whose size is not known; requests a reduced size otherwise
	CacheSize         int
	RequestsPerSecond float64 // 0 disables rate limiting
	Timeout           time.Duration
}

// New creates an embedder for cfg.Model. Unknown providers, missing
// credentials and unknown dimensions fail with ErrConfiguration.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	kind, model, err := ParseModelKey(cfg.Model)
	if err != nil {
		return nil, err
	}

	dim := cfg.Dimension
	if dim <= 0 {
		dim = KnownDimension(model)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension of model %q is unknown; set it explicitly", types.ErrConfiguration, model)
	}

	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	switch kind {
	case KindLocal:
		return NewLocalProvider(dim, cache), nil
	case KindOpenAI, KindJina:
		apiKey, err := resolveAPIKey(kind, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		return NewHTTPProvider(HTTPConfig{
			Kind:      kind,
			Model:     model,
			APIKey:    apiKey,
			BaseURL:   cfg.BaseURL,
			Dimension: dim,
			Reduced:   cfg.Dimension > 0 && cfg.Dimension != KnownDimension(model),
			Timeout:   timeout,
			Limiter:   newLimiter(cfg.RequestsPerSecond),
		}, cache), nil
	case KindGemini:
		apiKey, err := resolveAPIKey(kind, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		return NewGeminiProvider(ctx, apiKey, model, dim, newLimiter(cfg.RequestsPerSecond), cache)
	}
	return nil, fmt.Errorf("%w: unsupported embedding provider %q", types.ErrConfiguration, kind)
}

// resolveAPIKey falls back to the provider's environment variable
func resolveAPIKey(kind ProviderKind, apiKey string) (string, error) {
	if apiKey != "" {
		return apiKey, nil
	}
	var envVars []string
	switch kind {
	case KindOpenAI:
		envVars = []string{EnvOpenAIAPIKey}
	case KindJina:
		envVars = []string{EnvJinaAPIKey}
	case KindGemini:
		envVars = []string{EnvGeminiAPIKey, EnvGoogleAPIKey}
	}
	for _, name := range envVars {
		if v := os.Getenv(name); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: no API key for %s embeddings (set %v)", types.ErrConfiguration, kind, envVars)
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// waitLimiter blocks until the limiter admits one request; a nil limiter never blocks
func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
