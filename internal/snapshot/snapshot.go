package snapshot

import (
	"context"
	"os"
	"sync"

	"github.com/dshills/repoindex/pkg/types"
)

// Provider discovers repositories and materializes them on disk
type Provider interface {
	// GetRepository resolves a repository id (its slug). Unknown ids are ErrNotFound.
	GetRepository(ctx context.Context, id string) (*types.RepositoryRef, error)
	// ListRepositories returns every repository carrying at least one of topics;
	// no topics lists everything
	ListRepositories(ctx context.Context, topics []string) ([]*types.RepositoryRef, error)
	// GetRepositoryFile reads one file at ref. found is false when it does not exist.
	GetRepositoryFile(ctx context.Context, repoID, path, ref string) (content string, found bool, err error)
	// Acquire makes a directory snapshot of repo at ref. The caller must Close it.
	Acquire(ctx context.Context, repo *types.RepositoryRef, ref string) (*Snapshot, error)
}

// Snapshot is a directory holding one revision of a repository
type Snapshot struct {
	Dir string
	SHA string

	once    sync.Once
	cleanup func() error
	err     error
}

// Close releases the snapshot. Temporary directories are removed; local
// checkouts are left alone. Safe to call more than once.
func (s *Snapshot) Close() error {
	s.once.Do(func() {
		if s.cleanup != nil {
			s.err = s.cleanup()
		}
	})
	return s.err
}

func tempSnapshot(dir, sha string) *Snapshot {
	return &Snapshot{
		Dir:     dir,
		SHA:     sha,
		cleanup: func() error { return os.RemoveAll(dir) },
	}
}

func filterByTopics(repos []*types.RepositoryRef, topics []string) []*types.RepositoryRef {
	out := make([]*types.RepositoryRef, 0, len(repos))
	for _, r := range repos {
		if r.HasAnyTopic(topics) {
			out = append(out, r)
		}
	}
	return out
}
