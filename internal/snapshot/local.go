package snapshot

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/repoindex/pkg/types"
)

// LocalRepository is a repository checked out on the local filesystem
type LocalRepository struct {
	Slug          string   `toml:"slug"`
	Path          string   `toml:"path"`
	DefaultBranch string   `toml:"default_branch"`
	Topics        []string `toml:"topics"`
}

// LocalProvider serves repositories from local directories. Snapshots are
// the working tree itself; the ref only names the tracking ref and picks the
// commit reported as the snapshot SHA.
type LocalProvider struct {
	repos map[string]LocalRepository
	slugs []string
}

// NewLocal registers repos plus every non-hidden subdirectory of root (when
// root is set) under its directory name
func NewLocal(root string, repos []LocalRepository) (*LocalProvider, error) {
	p := &LocalProvider{repos: make(map[string]LocalRepository)}

	for _, r := range repos {
		if err := p.add(r); err != nil {
			return nil, err
		}
	}

	if root != "" {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("%w: read repository root: %v", types.ErrConfiguration, err)
		}
		for _, e := range entries {
			if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			if _, ok := p.repos[e.Name()]; ok {
				continue
			}
			if err := p.add(LocalRepository{Slug: e.Name(), Path: filepath.Join(root, e.Name())}); err != nil {
				return nil, err
			}
		}
	}

	sort.Strings(p.slugs)
	return p, nil
}

func (p *LocalProvider) add(r LocalRepository) error {
	if r.Slug == "" || r.Path == "" {
		return fmt.Errorf("%w: local repository needs a slug and a path", types.ErrConfiguration)
	}
	abs, err := filepath.Abs(r.Path)
	if err != nil {
		return fmt.Errorf("%w: repository %s: %v", types.ErrConfiguration, r.Slug, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: repository %s: %s is not a directory", types.ErrConfiguration, r.Slug, abs)
	}
	if _, dup := p.repos[r.Slug]; dup {
		return fmt.Errorf("%w: duplicate repository slug %q", types.ErrConfiguration, r.Slug)
	}
	r.Path = abs
	p.repos[r.Slug] = r
	p.slugs = append(p.slugs, r.Slug)
	return nil
}

func (p *LocalProvider) ref(r LocalRepository) *types.RepositoryRef {
	branch := r.DefaultBranch
	if branch == "" {
		branch = currentBranch(r.Path)
	}
	return &types.RepositoryRef{
		ExternalID:    r.Path,
		Slug:          r.Slug,
		ClientKind:    types.ClientLocal,
		DefaultBranch: branch,
		Topics:        append([]string(nil), r.Topics...),
	}
}

func (p *LocalProvider) GetRepository(_ context.Context, id string) (*types.RepositoryRef, error) {
	r, ok := p.repos[id]
	if !ok {
		return nil, fmt.Errorf("repository %q: %w", id, types.ErrNotFound)
	}
	return p.ref(r), nil
}

func (p *LocalProvider) ListRepositories(_ context.Context, topics []string) ([]*types.RepositoryRef, error) {
	repos := make([]*types.RepositoryRef, 0, len(p.slugs))
	for _, slug := range p.slugs {
		repos = append(repos, p.ref(p.repos[slug]))
	}
	return filterByTopics(repos, topics), nil
}

func (p *LocalProvider) GetRepositoryFile(_ context.Context, repoID, path, _ string) (string, bool, error) {
	r, ok := p.repos[repoID]
	if !ok {
		return "", false, fmt.Errorf("repository %q: %w", repoID, types.ErrNotFound)
	}
	full, err := containedPath(r.Path, path)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), true, nil
}

func (p *LocalProvider) Acquire(ctx context.Context, repo *types.RepositoryRef, ref string) (*Snapshot, error) {
	r, ok := p.repos[repo.Slug]
	if !ok {
		return nil, fmt.Errorf("repository %q: %w", repo.Slug, types.ErrNotFound)
	}
	sha := resolveGitRef(r.Path, ref)
	if sha == "" {
		var err error
		if sha, err = fingerprint(ctx, r.Path); err != nil {
			return nil, fmt.Errorf("fingerprint %s: %w", r.Slug, err)
		}
	}
	return &Snapshot{Dir: r.Path, SHA: sha}, nil
}

// currentBranch reads the checked out branch from .git/HEAD, defaulting to main
func currentBranch(dir string) string {
	head, err := os.ReadFile(filepath.Join(dir, ".git", "HEAD"))
	if err == nil {
		if name, ok := strings.CutPrefix(strings.TrimSpace(string(head)), "ref: refs/heads/"); ok {
			return name
		}
	}
	return "main"
}

// resolveGitRef returns the commit a branch or tag points to, or "" when the
// directory is not a git checkout or the ref is unknown
func resolveGitRef(dir, ref string) string {
	gitDir := filepath.Join(dir, ".git")
	if ref == "" {
		head, err := os.ReadFile(filepath.Join(gitDir, "HEAD"))
		if err != nil {
			return ""
		}
		line := strings.TrimSpace(string(head))
		target, symbolic := strings.CutPrefix(line, "ref: ")
		if !symbolic {
			return line
		}
		return readRef(gitDir, target)
	}
	for _, name := range []string{"refs/heads/" + ref, "refs/tags/" + ref} {
		if sha := readRef(gitDir, name); sha != "" {
			return sha
		}
	}
	return ""
}

func readRef(gitDir, name string) string {
	if data, err := os.ReadFile(filepath.Join(gitDir, filepath.FromSlash(name))); err == nil {
		return strings.TrimSpace(string(data))
	}

	f, err := os.Open(filepath.Join(gitDir, "packed-refs"))
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		sha, refName, ok := strings.Cut(scanner.Text(), " ")
		if ok && refName == name {
			return sha
		}
	}
	return ""
}

// fingerprint hashes the path, size and modification time of every file so
// a directory without git history still gets a revision id
func fingerprint(ctx context.Context, dir string) (string, error) {
	h := sha1.New()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		_, _ = fmt.Fprintf(h, "%s\x00%d\x00%d\n", filepath.ToSlash(rel), info.Size(), info.ModTime().UnixNano())
		return nil
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// containedPath joins a slash-separated relative path onto root and rejects
// anything that would escape it
func containedPath(root, rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the repository", rel)
	}
	return filepath.Join(root, clean), nil
}
