package snapshot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/dshills/repoindex/pkg/types"
)

// EnvGitHubToken is consulted when GitHubConfig.Token is empty
const EnvGitHubToken = "GITHUB_TOKEN"

// DefaultTimeout bounds each GitHub request, archive downloads included
const DefaultTimeout = 2 * time.Minute

// GitHubConfig configures a GitHubProvider
type GitHubConfig struct {
	Token             string
	BaseURL           string // API root for GitHub Enterprise, e.g. https://ghe.example.com/api/v3/
	Org               string // List this organization's repositories instead of the user's
	IncludeArchived   bool
	IncludeForks      bool
	RequestsPerSecond float64
	Timeout           time.Duration
	Logger            *zap.Logger
}

// GitHubProvider serves repositories through the GitHub REST API. Snapshots
// are tarballs of the resolved commit extracted to a temporary directory.
type GitHubProvider struct {
	cfg        GitHubConfig
	gh         *gh.Client
	httpClient *http.Client
	limiter    *rateLimiter
	logger     *zap.Logger
}

// NewGitHub creates a provider. Without a token only public repositories of
// an organization can be listed.
func NewGitHub(ctx context.Context, cfg GitHubConfig) (*GitHubProvider, error) {
	if cfg.Token == "" {
		cfg.Token = os.Getenv(EnvGitHubToken)
	}
	if cfg.Token == "" && cfg.Org == "" {
		return nil, fmt.Errorf("%w: github needs a token (set %s) or an organization", types.ErrConfiguration, EnvGitHubToken)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	httpClient := &http.Client{}
	if cfg.Token != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
	}
	httpClient.Timeout = cfg.Timeout

	client := gh.NewClient(httpClient)
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("%w: github base url: %v", types.ErrConfiguration, err)
		}
		client.BaseURL = base
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GitHubProvider{
		cfg:        cfg,
		gh:         client,
		httpClient: httpClient,
		limiter:    newRateLimiter(cfg.RequestsPerSecond),
		logger:     logger,
	}, nil
}

func (p *GitHubProvider) GetRepository(ctx context.Context, id string) (*types.RepositoryRef, error) {
	owner, name, err := p.splitSlug(id)
	if err != nil {
		return nil, err
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	repo, resp, err := p.gh.Repositories.Get(ctx, owner, name)
	p.observe(resp)
	if err != nil {
		return nil, wrapError(err, "get repository "+id)
	}
	return toRepositoryRef(repo), nil
}

func (p *GitHubProvider) ListRepositories(ctx context.Context, topics []string) ([]*types.RepositoryRef, error) {
	var all []*gh.Repository
	page := 1
	for page != 0 {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		var repos []*gh.Repository
		var resp *gh.Response
		var err error
		list := gh.ListOptions{PerPage: 100, Page: page}
		if p.cfg.Org != "" {
			repos, resp, err = p.gh.Repositories.ListByOrg(ctx, p.cfg.Org, &gh.RepositoryListByOrgOptions{ListOptions: list})
		} else {
			repos, resp, err = p.gh.Repositories.ListByAuthenticatedUser(ctx, &gh.RepositoryListByAuthenticatedUserOptions{
				Affiliation: "owner,collaborator,organization_member",
				ListOptions: list,
			})
		}
		p.observe(resp)
		if err != nil {
			return nil, wrapError(err, "list repositories")
		}
		all = append(all, repos...)

		page = 0
		if resp != nil {
			page = resp.NextPage
		}
	}

	refs := make([]*types.RepositoryRef, 0, len(all))
	for _, r := range all {
		if r.GetDisabled() || (r.GetArchived() && !p.cfg.IncludeArchived) || (r.GetFork() && !p.cfg.IncludeForks) {
			continue
		}
		refs = append(refs, toRepositoryRef(r))
	}
	return filterByTopics(refs, topics), nil
}

func (p *GitHubProvider) GetRepositoryFile(ctx context.Context, repoID, path, ref string) (string, bool, error) {
	owner, name, err := p.splitSlug(repoID)
	if err != nil {
		return "", false, err
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return "", false, fmt.Errorf("rate limit wait: %w", err)
	}

	file, _, resp, err := p.gh.Repositories.GetContents(ctx, owner, name, path, &gh.RepositoryContentGetOptions{Ref: ref})
	p.observe(resp)
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, wrapError(err, "get contents "+path)
	}
	if file == nil {
		return "", false, fmt.Errorf("%s is a directory", path)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", false, fmt.Errorf("decode %s: %w", path, err)
	}
	return content, true, nil
}

func (p *GitHubProvider) Acquire(ctx context.Context, repo *types.RepositoryRef, ref string) (*Snapshot, error) {
	owner, name, err := p.splitSlug(repo.Slug)
	if err != nil {
		return nil, err
	}
	ref = repo.RefOrDefault(ref)

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	sha, resp, err := p.gh.Repositories.GetCommitSHA1(ctx, owner, name, ref, "")
	p.observe(resp)
	if err != nil {
		return nil, wrapError(err, fmt.Sprintf("resolve %s@%s", repo.Slug, ref))
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	link, resp, err := p.gh.Repositories.GetArchiveLink(ctx, owner, name, gh.Tarball, &gh.RepositoryContentGetOptions{Ref: sha}, 3)
	p.observe(resp)
	if err != nil {
		return nil, wrapError(err, "archive link "+repo.Slug)
	}

	dir, err := os.MkdirTemp("", "repoindex-snapshot-*")
	if err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	snap := tempSnapshot(dir, sha)

	files, err := p.download(ctx, link.String(), dir)
	if err != nil {
		_ = snap.Close()
		return nil, fmt.Errorf("download %s@%s: %w", repo.Slug, sha, err)
	}

	p.logger.Debug("acquired github snapshot",
		zap.String("repo", repo.Slug),
		zap.String("ref", ref),
		zap.String("sha", sha),
		zap.Int("files", files))
	return snap, nil
}

func (p *GitHubProvider) download(ctx context.Context, link, dir string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return extractTarball(resp.Body, dir)
}

// splitSlug accepts "owner/name", or a bare name when an organization is configured
func (p *GitHubProvider) splitSlug(slug string) (string, string, error) {
	owner, name, found := strings.Cut(slug, "/")
	if !found {
		if p.cfg.Org == "" {
			return "", "", fmt.Errorf("repository %q: expected owner/name: %w", slug, types.ErrNotFound)
		}
		owner, name = p.cfg.Org, slug
	}
	if owner == "" || name == "" {
		return "", "", fmt.Errorf("repository %q: %w", slug, types.ErrNotFound)
	}
	return owner, name, nil
}

func (p *GitHubProvider) observe(resp *gh.Response) {
	if resp != nil {
		p.limiter.update(resp.Response)
	}
}

func toRepositoryRef(r *gh.Repository) *types.RepositoryRef {
	return &types.RepositoryRef{
		ExternalID:    strconv.FormatInt(r.GetID(), 10),
		Slug:          r.GetFullName(),
		ClientKind:    types.ClientGitHub,
		DefaultBranch: r.GetDefaultBranch(),
		Topics:        r.Topics,
	}
}

func isNotFound(err error) bool {
	var ghErr *gh.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}

// wrapError maps 404 responses to ErrNotFound
func wrapError(err error, operation string) error {
	if isNotFound(err) {
		return fmt.Errorf("%s: %w", operation, types.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", operation, err)
}
