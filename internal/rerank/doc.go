// Package rerank re-orders merged search results with a cross-encoder that
// scores each (query, chunk text) pair. The Jina /rerank API is supported.
package rerank
