// Package loader turns a repository snapshot into chunk candidates.
//
// LoadAndSplit walks a directory, keeps UTF-8 text files selected by the
// include and exclude globs, and splits each file with a splitter tuned to
// its language. Markdown is first cut at level 1-3 headings, whose text is
// carried as h1/h2/h3 metadata. Go chunks list the top-level declarations
// they overlap under "symbols".
//
//	docs, err := loader.LoadAndSplit(ctx, snapshotDir, loader.Options{
//	    Exclude:      []string{"vendor/**", "**/*_test.go"},
//	    ChunkSize:    loader.DefaultChunkSize,
//	    ChunkOverlap: loader.DefaultChunkOverlap,
//	})
//
// Every document carries "source" (POSIX path relative to the root),
// "start_index" (character offset in the file), "content_type" and, when the
// language is known, "language".
package loader
