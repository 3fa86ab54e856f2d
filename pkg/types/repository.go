package types

import "strings"

// ClientKind identifies the host a repository was discovered on
type ClientKind string

const (
	ClientGitHub ClientKind = "github"
	ClientLocal  ClientKind = "local"
)

// RepositoryRef is the external identity of a repository.
// ID is zero until the repository has been persisted.
type RepositoryRef struct {
	ID            int64
	ExternalID    string
	Slug          string
	ClientKind    ClientKind
	DefaultBranch string
	Topics        []string // Not persisted; used only for selection
}

// HasAnyTopic reports whether the repository carries at least one of topics.
// An empty topic list matches every repository.
func (r *RepositoryRef) HasAnyTopic(topics []string) bool {
	if len(topics) == 0 {
		return true
	}
	for _, want := range topics {
		for _, have := range r.Topics {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

// RefOrDefault returns ref, or the repository's default branch when ref is empty
func (r *RepositoryRef) RefOrDefault(ref string) string {
	if ref != "" {
		return ref
	}
	if r.DefaultBranch != "" {
		return r.DefaultBranch
	}
	return "main"
}
