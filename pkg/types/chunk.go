package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"maps"
)

// ContentType marks whether a chunk carries original file text or generated enrichment
type ContentType string

const (
	ContentPrimary   ContentType = "primary"
	ContentAugmented ContentType = "augmented"
)

// Metadata keys shared by the loader, both indices and the searcher
const (
	MetaSource      = "source"
	MetaLanguage    = "language"
	MetaContentType = "content_type"
	MetaStartIndex  = "start_index"
	MetaRepoID      = "repo_id"
	MetaRef         = "ref"
	MetaSymbols     = "symbols"
)

// Document is a chunk candidate produced by the loader, before it is owned by a namespace
type Document struct {
	Source   string // POSIX path relative to the snapshot root
	Content  string
	Metadata map[string]any
}

// Chunk is a unit of indexed text owned by exactly one namespace
type Chunk struct {
	// Identification
	ID          string // UUID shared by the semantic and lexical indices
	NamespaceID int64

	// Content
	Source  string
	Content string
	Vector  []float32

	// Metadata
	Metadata map[string]any
}

// ContentType returns the content marker stored in the chunk metadata, defaulting to primary
func (c *Chunk) ContentType() ContentType {
	return contentTypeOf(c.Metadata)
}

// IsAugmented reports whether the chunk was generated rather than read from a file
func (c *Chunk) IsAugmented() bool {
	return c.ContentType() == ContentAugmented
}

// Validate checks the fields every persisted chunk must carry
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return errors.New("chunk id cannot be empty")
	}
	if c.NamespaceID <= 0 {
		return errors.New("chunk must belong to a namespace")
	}
	if c.Source == "" {
		return errors.New("chunk source cannot be empty")
	}
	if c.Content == "" {
		return errors.New("chunk content cannot be empty")
	}
	return nil
}

// ContentType returns the content marker of the document, defaulting to primary
func (d *Document) ContentType() ContentType {
	return contentTypeOf(d.Metadata)
}

// Clone returns a copy of the document with its own metadata map
func (d Document) Clone() Document {
	d.Metadata = maps.Clone(d.Metadata)
	if d.Metadata == nil {
		d.Metadata = make(map[string]any)
	}
	return d
}

// ContentHash returns the hex SHA-256 of the document content
func (d *Document) ContentHash() string {
	h := sha256.Sum256([]byte(d.Content))
	return hex.EncodeToString(h[:])
}

func contentTypeOf(meta map[string]any) ContentType {
	switch v := meta[MetaContentType].(type) {
	case ContentType:
		return v
	case string:
		if v != "" {
			return ContentType(v)
		}
	}
	return ContentPrimary
}
