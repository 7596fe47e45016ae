package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

const mockDimensions = 1536

// MockClient produces deterministic embeddings derived from the input
// text. Identical inputs always embed identically, so similarity search
// behaves consistently in tests and local development.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (c *MockClient) Embed(_ context.Context, text string) ([]float32, error) {
	seed := sha256.Sum256([]byte(text))

	vec := make([]float32, mockDimensions)
	var norm float64
	for i := range vec {
		// Stretch the 32-byte digest across the full vector.
		chunk := sha256.Sum256(append(seed[:], byte(i), byte(i>>8)))
		bits := binary.BigEndian.Uint32(chunk[:4])
		v := float64(bits)/float64(math.MaxUint32)*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}

	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
