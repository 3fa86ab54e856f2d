// Package mcp exposes the index over the Model Context Protocol.
//
// The server speaks JSON-RPC 2.0 over stdio and registers four tools:
//   - search_documents: run the graded retrieval loop for a query
//   - update_index: index repositories, optionally resetting a ref or every ref
//   - delete_index: drop a repository's generations from both indices
//   - index_status: list repositories, generations and chunk counts
//
// It is started by the serve command:
//
//	repoindex serve
//
// # Errors
//
// Tool failures are returned as MCPError values carrying a JSON-RPC code:
//
//	-32602  invalid parameters or configuration
//	-32603  internal error
//	-32002  the repository is being updated by another call
//	-32003  repository, ref or index not found
//	-32004  empty query
//
// Update reports are returned even when some repositories failed; each
// entry carries its own outcome and error.
package mcp
