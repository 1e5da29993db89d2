package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeEmbedding packs vec as little-endian IEEE 754 float32 values with
// no length prefix. A nil vector encodes to a nil BLOB (SQL NULL).
func encodeEmbedding(vec []float32) []byte {
	if vec == nil {
		return nil
	}
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if b == nil {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

// embeddingParam binds a nil vector as SQL NULL rather than an empty BLOB.
func embeddingParam(vec []float32) any {
	if vec == nil {
		return nil
	}
	return encodeEmbedding(vec)
}
