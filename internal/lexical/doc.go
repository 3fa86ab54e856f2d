// Package lexical implements the token-based full-text index.
//
// Documents live in a SQLite FTS5 table with one row per chunk:
//
//	doc_id        chunk id shared with the semantic store (raw)
//	page_content  chunk text (tokenized, BM25 ranked)
//	page_source   relative source path (stored, exact match)
//	page_metadata chunk metadata as JSON (stored, not searchable)
//	repo_id       repository slug (raw)
//	ref           tracking ref (raw)
//
// Many repositories share one physical index and are told apart by repo_id
// and ref. Each physical index has a single writer; a Registry guarantees
// that all callers opening the same path get the same *Index:
//
//	reg := lexical.NewRegistry(logger)
//	defer reg.Close()
//
//	idx, err := reg.Open(filepath.Join(dataDir, "lexical.db"))
//	n, err := idx.AddDocuments(ctx, ns, chunks)
//
//	_ = idx.Reload(ctx) // see commits made since the last reload
//	hits, err := idx.Search(ctx, "getUserById", 10, ns)
//
// Query text goes through Tokenize before matching, so identifiers written in
// camelCase or snake_case match their component words.
package lexical
