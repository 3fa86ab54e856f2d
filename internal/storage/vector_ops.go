package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

const nearestSelect = `
	SELECT c.id, c.namespace_id, c.source_path, c.content_text, c.metadata_json,
		r.external_slug, n.tracking_ref, %s
	FROM chunks c
	INNER JOIN namespaces n ON n.id = c.namespace_id
	INNER JOIN repositories r ON r.id = n.repository_id
	WHERE c.namespace_id IN (%s)
`

// searchVectorOptimized uses sqlite-vec extension for SQL-based vector similarity search
func searchVectorOptimized(ctx context.Context, q querier, queryVector []float32, limit int, namespaceIDs []int64) ([]ChunkHit, error) {
	queryVectorBlob := serializeVector(queryVector)

	// vec_distance_cosine returns a distance (lower is better); report 1 - distance
	query := fmt.Sprintf(nearestSelect, "1.0 - vec_distance_cosine(c.content_vector, ?) AS similarity", placeholders(len(namespaceIDs))) +
		` ORDER BY similarity DESC LIMIT ?`
	args := append([]interface{}{queryVectorBlob}, int64Args(namespaceIDs)...)
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]ChunkHit, 0, limit)
	for rows.Next() {
		var h ChunkHit
		var meta string
		if err := rows.Scan(&h.Chunk.ID, &h.Chunk.NamespaceID, &h.Chunk.Source, &h.Chunk.Content, &meta,
			&h.RepoSlug, &h.Ref, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if h.Chunk.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// searchVectorFallback performs vector search using Go-based cosine similarity computation.
// This is used when sqlite-vec extension is not available (purego builds).
func searchVectorFallback(ctx context.Context, q querier, queryVector []float32, limit int, namespaceIDs []int64) ([]ChunkHit, error) {
	query := fmt.Sprintf(nearestSelect, "c.content_vector", placeholders(len(namespaceIDs)))

	rows, err := q.QueryContext(ctx, query, int64Args(namespaceIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []candidate
	for rows.Next() {
		var h ChunkHit
		var meta string
		var vectorBlob []byte
		if err := rows.Scan(&h.Chunk.ID, &h.Chunk.NamespaceID, &h.Chunk.Source, &h.Chunk.Content, &meta,
			&h.RepoSlug, &h.Ref, &vectorBlob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}

		vector := deserializeVector(vectorBlob)
		if len(vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}
		h.Score = cosineSimilarity(queryVector, vector)
		h.Chunk.Metadata = nil
		candidates = append(candidates, candidate{hit: h, meta: meta})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	if limit < len(candidates) {
		candidates = candidates[:limit]
	}

	// Decode metadata only for the survivors
	hits := make([]ChunkHit, len(candidates))
	for i, c := range candidates {
		hits[i] = c.hit
		if hits[i].Chunk.Metadata, err = decodeMetadata(c.meta); err != nil {
			return nil, err
		}
	}
	return hits, nil
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// candidate is a scored hit whose metadata is still encoded
type candidate struct {
	hit  ChunkHit
	meta string
}

// sortCandidates sorts candidates by score in descending order, ties by chunk id
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].hit.Score != candidates[j].hit.Score {
			return candidates[i].hit.Score > candidates[j].hit.Score
		}
		return candidates[i].hit.Chunk.ID < candidates[j].hit.Chunk.ID
	})
}
