package types

import "errors"

// Origin names the index a search hit came from
type Origin string

const (
	OriginSemantic Origin = "semantic"
	OriginLexical  Origin = "lexical"
)

// SearchResult represents a single ranked chunk returned to callers
type SearchResult struct {
	// Identification
	ChunkID string
	Rank    int // Position in result set (1-based)

	// Scoring
	Score  float64 // Similarity, BM25 or rerank score depending on the last stage
	Origin Origin

	// Location
	RepoID string
	Ref    string
	Source string

	// Content
	Content  string
	Metadata map[string]any
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.ChunkID == "" {
		return ErrInvalidChunkID
	}
	if sr.Rank < 1 {
		return ErrInvalidRank
	}
	if sr.Source == "" {
		return ErrMissingSource
	}
	if sr.Content == "" {
		return ErrEmptyContent
	}
	return nil
}

// Search result validation errors
var (
	ErrInvalidChunkID = errors.New("invalid chunk ID")
	ErrInvalidRank    = errors.New("rank must be >= 1")
	ErrMissingSource  = errors.New("source is required")
	ErrEmptyContent   = errors.New("content cannot be empty")
)
