// Package engine assembles repoindex from a config.Config: the semantic
// store, the lexical index, the embedding provider, the snapshot provider,
// the retrieval loop and the update coordinator. The CLI and the MCP server
// both drive the system through an Engine.
package engine
