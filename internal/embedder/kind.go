package embedder

import (
	"fmt"
	"strings"

	"github.com/dshills/repoindex/pkg/types"
)

// ProviderKind is the closed set of embedding backends
type ProviderKind string

const (
	KindOpenAI ProviderKind = "openai"
	KindJina   ProviderKind = "jina"
	KindGemini ProviderKind = "gemini"
	KindLocal  ProviderKind = "local"
)

// Default models per provider
const (
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultGeminiModel = "text-embedding-004"
	DefaultLocalModel  = "hashing-v1"
)

// LocalDimension is the default size of hashed local embeddings
const LocalDimension = 384

// modelDimensions lists the native output size of known models
var modelDimensions = map[string]int{
	"text-embedding-3-small":       1536,
	"text-embedding-3-large":       3072,
	"text-embedding-ada-002":       1536,
	"jina-embeddings-v3":           1024,
	"jina-embeddings-v2-base-code": 768,
	"jina-embeddings-v2-base-en":   768,
	"text-embedding-004":           768,
	"gemini-embedding-001":         3072,
	DefaultLocalModel:              LocalDimension,
}

// Valid reports whether k is a known provider
func (k ProviderKind) Valid() bool {
	switch k {
	case KindOpenAI, KindJina, KindGemini, KindLocal:
		return true
	}
	return false
}

// DefaultModel returns the model used when a key names only the provider
func (k ProviderKind) DefaultModel() string {
	switch k {
	case KindOpenAI:
		return DefaultOpenAIModel
	case KindJina:
		return DefaultJinaModel
	case KindGemini:
		return DefaultGeminiModel
	case KindLocal:
		return DefaultLocalModel
	}
	return ""
}

// ParseModelKey splits "<provider>/<model>" into its parts. A bare provider
// name selects its default model. Unknown providers fail with ErrConfiguration.
func ParseModelKey(key string) (ProviderKind, string, error) {
	key = strings.TrimSpace(key)
	providerName, model, _ := strings.Cut(key, "/")
	kind := ProviderKind(strings.ToLower(providerName))
	if !kind.Valid() {
		return "", "", fmt.Errorf("%w: unknown embedding provider %q in %q", types.ErrConfiguration, providerName, key)
	}
	if model == "" {
		model = kind.DefaultModel()
	}
	return kind, model, nil
}

// KnownDimension returns the native dimension of model, or 0 when unknown
func KnownDimension(model string) int {
	return modelDimensions[model]
}
