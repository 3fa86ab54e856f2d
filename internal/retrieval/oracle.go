package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/repoindex/internal/llm"
	"github.com/dshills/repoindex/pkg/types"
)

// RelevanceOracle decides whether a chunk answers a query
type RelevanceOracle interface {
	IsRelevant(ctx context.Context, query, intent string, chunk types.SearchResult) (bool, error)
}

// RewriteOracle rephrases a query for code search, keeping its intent
type RewriteOracle interface {
	Rewrite(ctx context.Context, query, intent string) (string, error)
}

// Reranker re-orders results by a (query, chunk text) pair score
type Reranker interface {
	Rerank(ctx context.Context, query string, results []types.SearchResult) ([]types.SearchResult, error)
}

// AcceptAll grades every chunk relevant
type AcceptAll struct{}

func (AcceptAll) IsRelevant(context.Context, string, string, types.SearchResult) (bool, error) {
	return true, nil
}

// IdentityRewriter returns the query unchanged
type IdentityRewriter struct{}

func (IdentityRewriter) Rewrite(_ context.Context, query, _ string) (string, error) {
	return query, nil
}

// maxGradedContent bounds the chunk text sent to the grader
const maxGradedContent = 6000

const gradePrompt = `You are grading whether a retrieved code snippet is relevant to a developer's question.
If the snippet contains code, identifiers or documentation related to the question, grade it relevant.
It does not need to be a complete answer.

Question: %s
Intent: %s

Snippet from %s:
-----
%s
-----

Reply with JSON only: {"binary_score": "yes"} or {"binary_score": "no"}.`

const rewritePrompt = `You rewrite questions for searching a source code index.
Keep the original meaning and intent. Add identifiers, API names and phrasing likely
to appear in code or its documentation.

Question: %s
Intent: %s

Reply with the improved question only.`

// LLMGrader grades relevance with a language model
type LLMGrader struct {
	Generator llm.Generator
}

// NewLLMGrader creates a grader backed by gen
func NewLLMGrader(gen llm.Generator) *LLMGrader {
	return &LLMGrader{Generator: gen}
}

func (g *LLMGrader) IsRelevant(ctx context.Context, query, intent string, chunk types.SearchResult) (bool, error) {
	content := chunk.Content
	if len(content) > maxGradedContent {
		content = content[:maxGradedContent]
	}
	out, err := g.Generator.Generate(ctx, fmt.Sprintf(gradePrompt, query, orNone(intent), chunk.Source, content))
	if err != nil {
		return false, err
	}
	return parseBinaryScore(out)
}

// LLMRewriter rewrites queries with a language model
type LLMRewriter struct {
	Generator llm.Generator
}

// NewLLMRewriter creates a rewriter backed by gen
func NewLLMRewriter(gen llm.Generator) *LLMRewriter {
	return &LLMRewriter{Generator: gen}
}

func (r *LLMRewriter) Rewrite(ctx context.Context, query, intent string) (string, error) {
	out, err := r.Generator.Generate(ctx, fmt.Sprintf(rewritePrompt, query, orNone(intent)))
	if err != nil {
		return "", err
	}
	rewritten := strings.Trim(strings.TrimSpace(out), "\"'`")
	if rewritten == "" {
		return "", errors.New("empty rewrite")
	}
	return rewritten, nil
}

// parseBinaryScore accepts {"binary_score": "yes"|"no"}, optionally fenced,
// or a bare yes/no answer
func parseBinaryScore(out string) (bool, error) {
	text := strings.TrimSpace(out)
	text = strings.TrimPrefix(text, "```json")
	text = strings.Trim(strings.TrimSpace(text), "`")

	var grade struct {
		BinaryScore string `json:"binary_score"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &grade); err == nil && grade.BinaryScore != "" {
		text = grade.BinaryScore
	}

	answer := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.HasPrefix(answer, "yes"):
		return true, nil
	case strings.HasPrefix(answer, "no"):
		return false, nil
	}
	return false, fmt.Errorf("unparseable grade %q", out)
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none given)"
	}
	return s
}
