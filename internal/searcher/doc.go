// Package searcher runs one retrieval pass over the semantic and lexical indices.
//
// Three modes are supported:
//   - Hybrid: both indices queried concurrently, rankings interleaved (default)
//   - Vector: semantic index only
//   - Keyword: lexical index only
//
// # Basic Usage
//
//	s := searcher.New(semanticIndex, lexicalIndex, store)
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query:      "where are http handlers registered",
//	    Limit:      10,
//	    Namespaces: []*types.Namespace{ns},
//	})
//
// # Merging
//
// Hybrid results alternate semantic rank 1, lexical rank 1, semantic rank 2
// and so on. A chunk found by both indices keeps its first occurrence. The
// scores of the two origins are on different scales and are not compared.
//
// The semantic store is ground truth. Lexical hits whose chunk id is not
// stored in one of the searched namespaces are dropped, which hides rows of
// deleted generations and writes the lexical index has not caught up with.
//
// # Caching
//
// Responses are cached in an expiring LRU keyed by query, mode, limit and the
// set of namespace ids. InvalidateCache is called after every index update.
package searcher
