package types

import (
	"fmt"
	"time"
)

// NamespaceStatus is the lifecycle state of an indexing generation
type NamespaceStatus string

const (
	StatusPending  NamespaceStatus = "PENDING"
	StatusIndexing NamespaceStatus = "INDEXING"
	StatusIndexed  NamespaceStatus = "INDEXED"
	StatusFailed   NamespaceStatus = "FAILED"
)

// allowedTransitions lists the legal moves of the status machine.
// INDEXED and FAILED are terminal.
var allowedTransitions = map[NamespaceStatus][]NamespaceStatus{
	StatusPending:  {StatusIndexing, StatusFailed},
	StatusIndexing: {StatusIndexed, StatusFailed},
}

// Valid reports whether s is one of the known statuses
func (s NamespaceStatus) Valid() bool {
	switch s {
	case StatusPending, StatusIndexing, StatusIndexed, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s
func (s NamespaceStatus) Terminal() bool {
	return s == StatusIndexed || s == StatusFailed
}

// CanTransition reports whether moving from s to next is allowed
func (s NamespaceStatus) CanTransition(next NamespaceStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition when moving from s to next is not allowed
func (s NamespaceStatus) CheckTransition(next NamespaceStatus) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if !s.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return nil
}

// Namespace is one indexing generation of (repository, tracking ref, revision)
type Namespace struct {
	ID           int64
	RepositoryID int64
	RepoSlug     string // Denormalised from the owning repository
	SHA          string
	TrackingRef  string
	Status       NamespaceStatus
	CreatedAt    time.Time
}

// String renders the namespace the way search results print it
func (n *Namespace) String() string {
	return fmt.Sprintf("%s[%s]@%s", n.RepoSlug, n.TrackingRef, shortSHA(n.SHA))
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
