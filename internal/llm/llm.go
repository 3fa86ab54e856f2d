package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dshills/repoindex/pkg/types"
)

// Generator produces a text completion for a single prompt
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Kind is the closed set of completion backends
type Kind string

const (
	KindOpenAI Kind = "openai"
	KindGemini Kind = "gemini"
)

// Default models per backend
const (
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultGeminiModel = "gemini-2.0-flash"
)

// Environment variables consulted when Config.APIKey is empty
const (
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvGoogleAPIKey = "GOOGLE_API_KEY"
)

// ErrEmptyCompletion is returned when a backend answers without text
var ErrEmptyCompletion = errors.New("empty completion")

// Config selects and configures a Generator
type Config struct {
	Model             string // "<provider>/<model>", e.g. "gemini/gemini-2.0-flash"
	APIKey            string
	BaseURL           string // OpenAI-compatible servers
	Temperature       float32
	RequestsPerSecond float64
	Timeout           time.Duration
}

// ParseModelKey splits a "<provider>/<model>" key. A bare provider name
// selects its default model.
func ParseModelKey(key string) (Kind, string, error) {
	provider, model, _ := strings.Cut(strings.TrimSpace(key), "/")
	kind := Kind(strings.ToLower(provider))
	switch kind {
	case KindOpenAI:
		if model == "" {
			model = DefaultOpenAIModel
		}
	case KindGemini:
		if model == "" {
			model = DefaultGeminiModel
		}
	default:
		return "", "", fmt.Errorf("%w: unsupported llm provider %q", types.ErrConfiguration, provider)
	}
	return kind, model, nil
}

// New creates the Generator named by cfg.Model
func New(ctx context.Context, cfg Config) (Generator, error) {
	kind, model, err := ParseModelKey(cfg.Model)
	if err != nil {
		return nil, err
	}

	apiKey, err := resolveAPIKey(kind, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond)))
	}

	switch kind {
	case KindOpenAI:
		return NewOpenAI(OpenAIConfig{
			Model:       model,
			APIKey:      apiKey,
			BaseURL:     cfg.BaseURL,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			Limiter:     limiter,
		}), nil
	case KindGemini:
		return NewGemini(ctx, apiKey, model, cfg.Temperature, limiter)
	}
	return nil, fmt.Errorf("%w: unsupported llm provider %q", types.ErrConfiguration, kind)
}

func resolveAPIKey(kind Kind, apiKey string) (string, error) {
	if apiKey != "" {
		return apiKey, nil
	}
	envVars := []string{EnvOpenAIAPIKey}
	if kind == KindGemini {
		envVars = []string{EnvGeminiAPIKey, EnvGoogleAPIKey}
	}
	for _, name := range envVars {
		if v := os.Getenv(name); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: no API key for %s completions (set %v)", types.ErrConfiguration, kind, envVars)
}

func wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
