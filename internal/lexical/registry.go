package lexical

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Registry hands out exactly one Index per physical index file so that every
// caller shares the same writer
type Registry struct {
	mu      sync.Mutex
	logger  *zap.Logger
	indexes map[string]*Index
}

// NewRegistry creates an empty registry. A nil logger disables logging.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:  logger,
		indexes: make(map[string]*Index),
	}
}

// Open returns the index stored at path, opening it on first use
func (r *Registry) Open(path string) (*Index, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve lexical index path: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, ok := r.indexes[abs]; ok {
		return idx, nil
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lexical index directory: %w", err)
	}

	idx, err := openIndex(abs, r.logger.With(zap.String("index", abs)))
	if err != nil {
		return nil, err
	}
	r.indexes[abs] = idx
	r.logger.Info("lexical index opened", zap.String("path", abs))
	return idx, nil
}

// Close closes every index opened through the registry
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for path, idx := range r.indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
		delete(r.indexes, path)
	}
	return errors.Join(errs...)
}
