package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMarkdownSections(t *testing.T) {
	src := "intro text\n\n" +
		"# Title\n\npara one\n\n" +
		"## Sub\n\npara two\n\n```go\n# not a heading\n```\n\n" +
		"# Other\n\ntail\n"

	sections := splitMarkdownSections([]byte(src))
	require.Len(t, sections, 4)

	assert.Equal(t, "intro text\n\n", sections[0].body)
	assert.Empty(t, sections[0].headers)

	assert.Contains(t, sections[1].body, "para one")
	assert.Equal(t, map[string]string{"h1": "Title"}, sections[1].headers)

	assert.Contains(t, sections[2].body, "para two")
	assert.Contains(t, sections[2].body, "# not a heading")
	assert.Equal(t, map[string]string{"h1": "Title", "h2": "Sub"}, sections[2].headers)

	// A new h1 clears the h2
	assert.Equal(t, map[string]string{"h1": "Other"}, sections[3].headers)

	for _, sec := range sections {
		assert.Equal(t, sec.body, src[sec.offset:sec.offset+len(sec.body)])
		assert.NotContains(t, sec.body, "# Title")
	}
}

func TestSplitMarkdownSections_Setext(t *testing.T) {
	sections := splitMarkdownSections([]byte("Title\n=====\n\nbody\n"))
	require.Len(t, sections, 1)
	assert.Equal(t, "\nbody\n", sections[0].body)
	assert.Equal(t, map[string]string{"h1": "Title"}, sections[0].headers)
}

func TestSplitMarkdownSections_DeepHeadingsStayInBody(t *testing.T) {
	sections := splitMarkdownSections([]byte("# Top\n\n#### Detail\n\ntext\n"))
	require.Len(t, sections, 1)
	assert.Contains(t, sections[0].body, "#### Detail")
	assert.Equal(t, map[string]string{"h1": "Top"}, sections[0].headers)
}
