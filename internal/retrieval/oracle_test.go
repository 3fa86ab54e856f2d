package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoindex/pkg/types"
)

// scriptedGenerator returns a fixed answer and records the prompt
type scriptedGenerator struct {
	answer string
	err    error
	prompt string
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.answer, g.err
}

func (g *scriptedGenerator) Model() string { return "scripted" }

func TestParseBinaryScore(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{`{"binary_score": "yes"}`, true},
		{`{"binary_score": "no"}`, false},
		{"```json\n{\"binary_score\": \"YES\"}\n```", true},
		{"yes", true},
		{"No.", false},
		{"Yes, it defines the handler", true},
	}
	for _, tt := range tests {
		got, err := parseBinaryScore(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseBinaryScore("maybe")
	assert.Error(t, err)
}

func TestLLMGrader(t *testing.T) {
	gen := &scriptedGenerator{answer: `{"binary_score":"yes"}`}
	g := NewLLMGrader(gen)

	chunk := types.SearchResult{Source: "auth/jwt.go", Content: strings.Repeat("x", maxGradedContent+100)}
	ok, err := g.IsRelevant(context.Background(), "how are tokens verified", "", chunk)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, gen.prompt, "how are tokens verified")
	assert.Contains(t, gen.prompt, "auth/jwt.go")
	assert.Contains(t, gen.prompt, "(none given)")
	assert.NotContains(t, gen.prompt, strings.Repeat("x", maxGradedContent+1))

	gen.err = errors.New("quota")
	_, err = g.IsRelevant(context.Background(), "q", "i", chunk)
	assert.Error(t, err)
}

func TestLLMRewriter(t *testing.T) {
	gen := &scriptedGenerator{answer: "  \"where is JWT middleware VerifyToken registered\"\n"}
	r := NewLLMRewriter(gen)

	out, err := r.Rewrite(context.Background(), "where is auth", "fix a bug")
	require.NoError(t, err)
	assert.Equal(t, "where is JWT middleware VerifyToken registered", out)
	assert.Contains(t, gen.prompt, "fix a bug")

	gen.answer = "  "
	_, err = r.Rewrite(context.Background(), "q", "")
	assert.Error(t, err)
}

func TestPassThroughOracles(t *testing.T) {
	ok, err := AcceptAll{}.IsRelevant(context.Background(), "q", "", types.SearchResult{})
	require.NoError(t, err)
	assert.True(t, ok)

	out, err := IdentityRewriter{}.Rewrite(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, "q", out)
}
