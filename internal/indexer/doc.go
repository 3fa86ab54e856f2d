// Package indexer keeps the semantic and lexical indices in step with
// repository snapshots.
//
// # Basic Usage
//
//	coord := indexer.New(store, provider, semanticIndex, lexicalIndex,
//	    indexer.WithMaxWorkers(4),
//	    indexer.WithOnChange(searcher.InvalidateCache))
//
//	report, err := coord.Update(ctx, indexer.UpdateOptions{
//	    Topics: []string{"backend"},
//	    Reset:  true,
//	})
//
// # Update Pipeline
//
// Each repository runs the following steps on one worker of the pool:
//
//  1. Upsert the repository record
//  2. Optionally drop the ref's generations (Reset) or all of them (ResetAll)
//  3. Acquire a snapshot of the ref and get or create its namespace
//  4. Load and split the snapshot, optionally augment, then embed
//  5. In one semantic transaction: insert chunks, write the lexical
//     documents, mark the namespace INDEXED, commit
//
// A ref that already has an INDEXED generation is reported up to date; a
// new head is picked up by updating with Reset. Embedding happens before the
// transaction opens, so no database lock is held during provider calls.
//
// # Failure Isolation
//
// A failing repository marks its namespace FAILED, which is never retried
// automatically, and the remaining repositories continue. If the semantic
// commit fails after the lexical write, the lexical documents are removed
// by chunk id. Two updates of the same repository never overlap; the later
// one reports OutcomeBusy.
//
// After every Update, Delete or RebuildLexical the lexical reader is
// reloaded and the OnChange callback runs.
package indexer
