// Package types provides shared type definitions for repoindex.
//
// This package defines the domain types used across the loader, both indices,
// the update coordinator and the retrieval orchestrator.
//
// # Core Types
//
// RepositoryRef is the external identity of an indexed repository:
//
//	repo := &types.RepositoryRef{
//	    ExternalID:    "octo/api",
//	    Slug:          "octo/api",
//	    ClientKind:    types.ClientGitHub,
//	    DefaultBranch: "main",
//	}
//
// Namespace is one indexing generation of (repository, tracking ref, revision).
// Its status follows a small state machine:
//
//	PENDING -> INDEXING -> INDEXED
//	PENDING -> FAILED
//	INDEXING -> FAILED
//
// INDEXED and FAILED are terminal. Only INDEXED generations are ever served.
//
// Document is what the loader produces; Chunk is a Document that belongs to a
// namespace, carries an id shared by both indices and an embedding vector.
//
// # Errors
//
// ErrConfiguration, ErrNotFound, ErrIndexWrite and ErrTransientOracle form the
// error taxonomy. Every layer wraps them with fmt.Errorf and callers test with
// errors.Is:
//
//	if errors.Is(err, types.ErrNotFound) {
//	    // unknown repository id
//	}
package types
