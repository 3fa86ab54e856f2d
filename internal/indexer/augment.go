package indexer

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/repoindex/internal/llm"
	"github.com/dshills/repoindex/pkg/types"
)

// DefaultAugmentWorkers bounds concurrent description requests
const DefaultAugmentWorkers = 4

// maxAugmentedContent caps the chunk text sent for description
const maxAugmentedContent = 6000

// Augmenter enriches chunk candidates before they are embedded
type Augmenter interface {
	Augment(ctx context.Context, docs []types.Document) ([]types.Document, error)
}

// LLMAugmenter adds one generated description per primary document. The
// descriptions are marked augmented, so only the semantic index holds them.
type LLMAugmenter struct {
	gen     llm.Generator
	workers int
}

// NewLLMAugmenter creates an augmenter; workers <= 0 selects the default
func NewLLMAugmenter(gen llm.Generator, workers int) *LLMAugmenter {
	if workers <= 0 {
		workers = DefaultAugmentWorkers
	}
	return &LLMAugmenter{gen: gen, workers: workers}
}

// Augment returns docs followed by their descriptions, in input order.
// Documents that are already augmented get no description of their own.
func (a *LLMAugmenter) Augment(ctx context.Context, docs []types.Document) ([]types.Document, error) {
	descriptions := make([]string, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i := range docs {
		if docs[i].ContentType() == types.ContentAugmented {
			continue
		}
		g.Go(func() error {
			text, err := a.gen.Generate(gctx, describePrompt(&docs[i]))
			if err != nil {
				return fmt.Errorf("describe %s: %w", docs[i].Source, err)
			}
			descriptions[i] = strings.TrimSpace(text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]types.Document, 0, 2*len(docs))
	out = append(out, docs...)
	for i, desc := range descriptions {
		if desc == "" {
			continue
		}
		aug := docs[i].Clone()
		aug.Content = desc
		aug.Metadata[types.MetaContentType] = string(types.ContentAugmented)
		out = append(out, aug)
	}
	return out, nil
}

func describePrompt(doc *types.Document) string {
	content := doc.Content
	if len(content) > maxAugmentedContent {
		content = content[:maxAugmentedContent]
	}
	language, _ := doc.Metadata[types.MetaLanguage].(string)
	if language == "" {
		language = "text"
	}

	var sb strings.Builder
	sb.WriteString("Describe in two or three sentences what the following ")
	sb.WriteString(language)
	sb.WriteString(" excerpt from ")
	sb.WriteString(doc.Source)
	sb.WriteString(" does. Mention the identifiers it defines or uses. ")
	sb.WriteString("Answer with the description only.\n\n")
	sb.WriteString(content)
	return sb.String()
}
