package store

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/docvec/internal/models"
)

func TestEmbeddingEncoding(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, math.MaxFloat32, float32(math.Inf(-1))}

	b := encodeEmbedding(in)
	require.Len(t, b, len(in)*4)
	// 1.0 is 0x3f800000 little-endian.
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f}, b[4:8])

	out, err := decodeEmbedding(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	assert.Nil(t, encodeEmbedding(nil))
	assert.Nil(t, embeddingParam(nil))

	out, err = decodeEmbedding(nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = decodeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCosine(t *testing.T) {
	s, ok := cosine([]float32{1, 0}, []float32{2, 0})
	require.True(t, ok)
	assert.InDelta(t, 1.0, s, 1e-9)

	s, ok = cosine([]float32{1, 0}, []float32{-1, 0})
	require.True(t, ok)
	assert.InDelta(t, -1.0, s, 1e-9)

	_, ok = cosine([]float32{0, 0}, []float32{1, 0})
	assert.False(t, ok)
}

func TestRankExactTieBreak(t *testing.T) {
	ranked := rankExact([]models.ScoredChunk{
		{ChunkID: 9, Score: 0.5},
		{ChunkID: 3, Score: 0.9},
		{ChunkID: 2, Score: 0.5},
		{ChunkID: 7, Score: 0.1},
	}, 3)

	require.Len(t, ranked, 3)
	assert.Equal(t, []int64{3, 2, 9}, []int64{ranked[0].ChunkID, ranked[1].ChunkID, ranked[2].ChunkID})
}

func TestSanitizeUTF8(t *testing.T) {
	assert.Equal(t, "ab", sanitizeUTF8("a\x00b"))
	assert.Equal(t, "ok", sanitizeUTF8("o\xffk"))
	assert.Equal(t, "héllo", sanitizeUTF8("héllo"))
}

func TestDocumentLocksSerialize(t *testing.T) {
	var locks documentLocks
	unlock := locks.lock(1)

	acquired := make(chan struct{})
	released := make(chan struct{})
	go func() {
		u := locks.lock(1)
		close(acquired)
		u()
		close(released)
	}()

	// A different document is not blocked.
	locks.lock(2)()

	select {
	case <-acquired:
		t.Fatal("second writer acquired a held document lock")
	default:
	}
	unlock()
	<-acquired
	<-released

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.locks)
}
