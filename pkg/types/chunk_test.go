package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkContentType(t *testing.T) {
	t.Run("defaults to primary", func(t *testing.T) {
		c := &Chunk{}
		assert.Equal(t, ContentPrimary, c.ContentType())
		assert.False(t, c.IsAugmented())
	})

	t.Run("reads string marker", func(t *testing.T) {
		c := &Chunk{Metadata: map[string]any{MetaContentType: "augmented"}}
		assert.True(t, c.IsAugmented())
	})

	t.Run("reads typed marker", func(t *testing.T) {
		c := &Chunk{Metadata: map[string]any{MetaContentType: ContentAugmented}}
		assert.True(t, c.IsAugmented())
	})
}

func TestChunkValidate(t *testing.T) {
	valid := Chunk{ID: "a", NamespaceID: 1, Source: "a.py", Content: "x"}
	assert.NoError(t, valid.Validate())

	noID := valid
	noID.ID = ""
	assert.Error(t, noID.Validate())

	noNamespace := valid
	noNamespace.NamespaceID = 0
	assert.Error(t, noNamespace.Validate())

	noContent := valid
	noContent.Content = ""
	assert.Error(t, noContent.Validate())
}

func TestDocumentCloneIsolatesMetadata(t *testing.T) {
	doc := Document{Source: "a.go", Content: "package a", Metadata: map[string]any{MetaLanguage: "go"}}
	clone := doc.Clone()
	clone.Metadata[MetaContentType] = string(ContentAugmented)

	assert.NotContains(t, doc.Metadata, MetaContentType)
	assert.Equal(t, ContentAugmented, clone.ContentType())
	assert.Equal(t, ContentPrimary, doc.ContentType())
}

func TestRepositoryRefHelpers(t *testing.T) {
	repo := RepositoryRef{Slug: "octo/api", DefaultBranch: "develop", Topics: []string{"Backend", "go"}}

	assert.True(t, repo.HasAnyTopic(nil))
	assert.True(t, repo.HasAnyTopic([]string{"backend"}))
	assert.False(t, repo.HasAnyTopic([]string{"frontend"}))

	assert.Equal(t, "develop", repo.RefOrDefault(""))
	assert.Equal(t, "release", repo.RefOrDefault("release"))

	bare := RepositoryRef{}
	assert.Equal(t, "main", bare.RefOrDefault(""))
}

func TestSearchResultValidate(t *testing.T) {
	r := SearchResult{ChunkID: "id", Rank: 1, Source: "a.go", Content: "x"}
	assert.NoError(t, r.Validate())

	r.Rank = 0
	assert.ErrorIs(t, r.Validate(), ErrInvalidRank)
}
