package searcher

import (
	"context"
	"fmt"
	"testing"

	"github.com/dshills/repoindex/internal/lexical"
	"github.com/dshills/repoindex/internal/storage"
	"github.com/dshills/repoindex/pkg/types"
)

func benchResults(prefix string, n int) []types.SearchResult {
	out := make([]types.SearchResult, n)
	for i := range out {
		out[i] = types.SearchResult{ChunkID: fmt.Sprintf("%s-%d", prefix, i%(n/2+1))}
	}
	return out
}

func BenchmarkInterleave(b *testing.B) {
	sem := benchResults("c", 100)
	lex := benchResults("c", 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = interleave(sem, lex)
	}
}

func BenchmarkQueryHashing(b *testing.B) {
	namespaces := make([]*types.Namespace, 50)
	for i := range namespaces {
		namespaces[i] = &types.Namespace{ID: int64(50 - i)}
	}
	req := SearchRequest{Query: "where are http handlers registered", Mode: SearchModeHybrid, Limit: 10, Namespaces: namespaces}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = computeQueryHash(req)
	}
}

func BenchmarkHybridSearch(b *testing.B) {
	hits := make([]storage.ChunkHit, 50)
	lexHits := make([]lexical.Hit, 50)
	for i := range hits {
		hits[i] = semHit(fmt.Sprintf("s%d", i), "a.go", 1)
		lexHits[i] = lexHit(fmt.Sprintf("l%d", i), "b.go", 1)
	}
	s := New(&mockSemantic{hits: hits}, &mockLexical{hits: lexHits}, &mockChecker{})
	req := SearchRequest{Query: "handler", Limit: 50, Namespaces: []*types.Namespace{testNS}}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(ctx, req); err != nil {
			b.Fatal(err)
		}
	}
}
