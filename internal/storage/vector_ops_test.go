package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeVector_RoundTrip(t *testing.T) {
	vec := []float32{0, 1.5, -2.25, float32(math.Pi)}
	blob := serializeVector(vec)
	require.Len(t, blob, 16)
	assert.Equal(t, vec, deserializeVector(blob))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1}, []float32{1, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestSortCandidates(t *testing.T) {
	c := []candidate{
		{hit: ChunkHit{Score: 0.2}},
		{hit: ChunkHit{Score: 0.9}},
		{hit: ChunkHit{Score: 0.5}},
	}
	c[0].hit.Chunk.ID = "low"
	c[1].hit.Chunk.ID = "high"
	c[2].hit.Chunk.ID = "mid"

	sortCandidates(c)
	assert.Equal(t, "high", c[0].hit.Chunk.ID)
	assert.Equal(t, "mid", c[1].hit.Chunk.ID)
	assert.Equal(t, "low", c[2].hit.Chunk.ID)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestBatchStrings(t *testing.T) {
	batches := batchStrings([]string{"a", "b", "c", "d", "e"}, 2)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, batches)
	assert.Empty(t, batchStrings(nil, 2))
}
