// Package retrieval answers natural-language queries over the indexed corpus
// with a small state machine:
//
//	RETRIEVE -> GRADE -> END
//	RETRIEVE (empty) -> TRANSFORM_QUERY -> RETRIEVE
//	GRADE (nothing relevant) -> TRANSFORM_QUERY -> RETRIEVE
//
// RETRIEVE runs one searcher pass for the working query and counts an
// iteration. GRADE asks the relevance oracle about each candidate with a
// bounded number of concurrent calls. TRANSFORM_QUERY replaces the working
// query with the rewrite oracle's answer. Once MaxIterations retrieves have
// run the machine ends with whatever the last grade kept, possibly nothing.
//
// At END an optional reranker re-orders the kept chunks and the list is cut
// to K. Oracle failures fail the search with types.ErrTransientOracle; a
// reranker failure only logs and keeps the merged order.
package retrieval
