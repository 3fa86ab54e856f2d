package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/repoindex/internal/embedder"
	"github.com/dshills/repoindex/internal/llm"
	"github.com/dshills/repoindex/internal/searcher"
	"github.com/dshills/repoindex/internal/snapshot"
	"github.com/dshills/repoindex/internal/storage"
	"github.com/dshills/repoindex/pkg/types"
)

// Environment overrides, applied after the config file
const (
	EnvDBPath            = "REPOINDEX_DB_PATH"
	EnvDBDriver          = "REPOINDEX_DB_DRIVER"
	EnvDBDSN             = "REPOINDEX_DB_DSN"
	EnvLexicalPath       = "REPOINDEX_LEXICAL_PATH"
	EnvEmbeddingProvider = "REPOINDEX_EMBEDDING_PROVIDER"
	EnvLLMModel          = "REPOINDEX_LLM_MODEL"
	EnvSource            = "REPOINDEX_SOURCE"
	EnvLocalRoot         = "REPOINDEX_LOCAL_ROOT"
	EnvGitHubOrg         = "REPOINDEX_GITHUB_ORG"
	EnvMaxWorkers        = "REPOINDEX_MAX_WORKERS"
	EnvLogLevel          = "REPOINDEX_LOG_LEVEL"
)

// Snapshot sources
const (
	SourceLocal  = "local"
	SourceGitHub = "github"
)

// DefaultMaxWorkers is the update pool size when none is configured
const DefaultMaxWorkers = 4

// Config is the full runtime configuration
type Config struct {
	Storage   StorageConfig   `toml:"storage"`
	Lexical   LexicalConfig   `toml:"lexical"`
	Embedding EmbeddingConfig `toml:"embedding"`
	LLM       LLMConfig       `toml:"llm"`
	Rerank    RerankConfig    `toml:"rerank"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Indexing  IndexingConfig  `toml:"indexing"`
	Source    SourceConfig    `toml:"source"`
	Log       LogConfig       `toml:"log"`
	Serve     ServeConfig     `toml:"serve"`
}

// StorageConfig selects the semantic store backend
type StorageConfig struct {
	Driver string `toml:"driver"` // sqlite or postgres
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

type LexicalConfig struct {
	Path string `toml:"path"`
}

// EmbeddingConfig selects the embedding model as "<provider>/<model>"
type EmbeddingConfig struct {
	Model             string  `toml:"model"`
	APIKey            string  `toml:"api_key,omitempty"`
	BaseURL           string  `toml:"base_url,omitempty"`
	Dimension         int     `toml:"dimension"`
	CacheSize         int     `toml:"cache_size"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
}

// LLMConfig configures the grading, rewriting and augmentation model. An
// empty model disables every LLM-backed feature.
type LLMConfig struct {
	Model             string  `toml:"model"`
	APIKey            string  `toml:"api_key,omitempty"`
	BaseURL           string  `toml:"base_url,omitempty"`
	Temperature       float32 `toml:"temperature"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
}

type RerankConfig struct {
	Enabled bool   `toml:"enabled"`
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key,omitempty"`
	BaseURL string `toml:"base_url,omitempty"`
}

type RetrievalConfig struct {
	Mode         string `toml:"mode"` // hybrid, vector or keyword
	K            int    `toml:"k"`
	GradeWorkers int    `toml:"grade_workers"`
	CacheSize    int    `toml:"cache_size"`
}

// IndexingConfig controls the update coordinator and the loader
type IndexingConfig struct {
	MaxWorkers   int      `toml:"max_workers"`
	ChunkSize    int      `toml:"chunk_size"`
	ChunkOverlap int      `toml:"chunk_overlap"`
	MaxFileSize  int64    `toml:"max_file_size"`
	Include      []string `toml:"include"`
	Exclude      []string `toml:"exclude"`
}

// SourceConfig selects where repositories come from
type SourceConfig struct {
	Kind         string                     `toml:"kind"` // local or github
	Root         string                     `toml:"root"`
	Repositories []snapshot.LocalRepository `toml:"repositories"`
	GitHub       GitHubConfig               `toml:"github"`
}

type GitHubConfig struct {
	Token             string  `toml:"token,omitempty"`
	BaseURL           string  `toml:"base_url,omitempty"`
	Org               string  `toml:"org"`
	IncludeArchived   bool    `toml:"include_archived"`
	IncludeForks      bool    `toml:"include_forks"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// ServeConfig configures the long-running tool server
type ServeConfig struct {
	Schedule string   `toml:"schedule"` // five-field cron expression; empty disables periodic updates
	Topics   []string `toml:"topics"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Storage: StorageConfig{
			Driver: storage.DriverSQLite,
			Path:   filepath.Join(dataDir, "semantic.db"),
		},
		Lexical: LexicalConfig{Path: filepath.Join(dataDir, "lexical.db")},
		Embedding: EmbeddingConfig{
			Model:          string(embedder.KindLocal),
			CacheSize:      10000,
			TimeoutSeconds: 30,
		},
		LLM: LLMConfig{TimeoutSeconds: 60},
		Retrieval: RetrievalConfig{
			Mode:         string(searcher.SearchModeHybrid),
			K:            10,
			GradeWorkers: 8,
			CacheSize:    searcher.DefaultCacheSize,
		},
		Indexing: IndexingConfig{
			MaxWorkers:   DefaultMaxWorkers,
			ChunkSize:    1000,
			ChunkOverlap: 200,
			MaxFileSize:  1 << 20,
		},
		Source: SourceConfig{Kind: SourceLocal},
		Log:    LogConfig{Level: "info"},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".repoindex"
	}
	return filepath.Join(home, ".repoindex")
}

// DefaultPath is where the CLI looks for its config file
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.toml")
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(expandHome(path))
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("%w: parse %s: %v", types.ErrConfiguration, path, err)
			}
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as TOML, readable only by the owner since it may hold keys
func Save(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from REPOINDEX_* variables
func (c *Config) ApplyEnv() error {
	setString(&c.Storage.Path, EnvDBPath)
	setString(&c.Storage.Driver, EnvDBDriver)
	setString(&c.Storage.DSN, EnvDBDSN)
	setString(&c.Lexical.Path, EnvLexicalPath)
	setString(&c.Embedding.Model, EnvEmbeddingProvider)
	setString(&c.LLM.Model, EnvLLMModel)
	setString(&c.Source.Kind, EnvSource)
	setString(&c.Source.Root, EnvLocalRoot)
	setString(&c.Source.GitHub.Org, EnvGitHubOrg)
	setString(&c.Log.Level, EnvLogLevel)

	if v := os.Getenv(EnvMaxWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", types.ErrConfiguration, EnvMaxWorkers, v)
		}
		c.Indexing.MaxWorkers = n
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func (c *Config) expandPaths() {
	c.Storage.Path = expandHome(c.Storage.Path)
	c.Lexical.Path = expandHome(c.Lexical.Path)
	c.Source.Root = expandHome(c.Source.Root)
	for i := range c.Source.Repositories {
		c.Source.Repositories[i].Path = expandHome(c.Source.Repositories[i].Path)
	}
}

// Validate reports the first inconsistency as ErrConfiguration. Credentials
// are checked later, when the providers are constructed.
func (c *Config) Validate() error {
	if _, _, err := embedder.ParseModelKey(c.Embedding.Model); err != nil {
		return err
	}
	if c.Embedding.Dimension < 0 {
		return fmt.Errorf("%w: embedding dimension must not be negative", types.ErrConfiguration)
	}
	if c.LLM.Model != "" {
		if _, _, err := llm.ParseModelKey(c.LLM.Model); err != nil {
			return err
		}
	}

	switch c.Storage.Driver {
	case storage.DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage.path is required for sqlite", types.ErrConfiguration)
		}
	case storage.DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage.dsn is required for postgres", types.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown storage driver %q", types.ErrConfiguration, c.Storage.Driver)
	}
	if c.Lexical.Path == "" {
		return fmt.Errorf("%w: lexical.path is required", types.ErrConfiguration)
	}

	if _, err := searcher.ParseMode(c.Retrieval.Mode); err != nil {
		return err
	}
	if c.Retrieval.K <= 0 || c.Retrieval.K > searcher.MaxLimit {
		return fmt.Errorf("%w: retrieval.k must be between 1 and %d", types.ErrConfiguration, searcher.MaxLimit)
	}
	if c.Indexing.MaxWorkers < 1 {
		return fmt.Errorf("%w: indexing.max_workers must be at least 1", types.ErrConfiguration)
	}
	if c.Indexing.ChunkOverlap < 0 || (c.Indexing.ChunkSize > 0 && c.Indexing.ChunkOverlap >= c.Indexing.ChunkSize) {
		return fmt.Errorf("%w: indexing.chunk_overlap must be smaller than chunk_size", types.ErrConfiguration)
	}

	switch strings.ToLower(c.Source.Kind) {
	case SourceLocal, SourceGitHub:
	default:
		return fmt.Errorf("%w: unknown source kind %q", types.ErrConfiguration, c.Source.Kind)
	}
	return nil
}

// EmbedderConfig converts the embedding section
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Model:             c.Embedding.Model,
		APIKey:            c.Embedding.APIKey,
		BaseURL:           c.Embedding.BaseURL,
		Dimension:         c.Embedding.Dimension,
		CacheSize:         c.Embedding.CacheSize,
		RequestsPerSecond: c.Embedding.RequestsPerSecond,
		Timeout:           seconds(c.Embedding.TimeoutSeconds),
	}
}

// GeneratorConfig converts the llm section
func (c *Config) GeneratorConfig() llm.Config {
	return llm.Config{
		Model:             c.LLM.Model,
		APIKey:            c.LLM.APIKey,
		BaseURL:           c.LLM.BaseURL,
		Temperature:       c.LLM.Temperature,
		RequestsPerSecond: c.LLM.RequestsPerSecond,
		Timeout:           seconds(c.LLM.TimeoutSeconds),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
