package database

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeEmbedding serializes an embedding as base64 of its little-endian
// float32 bytes. This is the text form stored by the SQLite backend.
func EncodeEmbedding(embedding []float32) string {
	buf := make([]byte, 4*len(embedding))
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeEmbedding parses the output of EncodeEmbedding.
func DecodeEmbedding(s string) ([]float32, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode embedding base64: %w", err)
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("decode embedding: %d bytes is not a multiple of 4", len(buf))
	}

	embedding := make([]float32, len(buf)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return embedding, nil
}
