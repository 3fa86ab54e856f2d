// Package semantic writes and searches the vector side of a namespace.
//
// Embed assigns chunk ids and vectors outside of any transaction; Insert
// writes them with a single bulk insert inside the namespace's transaction.
// Search embeds a query and asks the store for its nearest chunks.
package semantic
