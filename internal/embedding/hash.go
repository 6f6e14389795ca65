package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashProvider is an offline bag-of-words embedder using feature hashing.
// It needs no network and gives stable vectors, so recall degrades to
// lexical overlap when no model is configured.
type HashProvider struct {
	dimension int
}

// NewHashProvider creates a hashing embedder; dim defaults to 256.
func NewHashProvider(dim int) *HashProvider {
	if dim <= 0 {
		dim = 256
	}
	return &HashProvider{dimension: dim}
}

// Embed hashes each lower-cased word into a bucket and L2-normalizes.
func (p *HashProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, p.dimension)
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, w := range words {
			h := fnv.New32a()
			h.Write([]byte(w))
			vec[h.Sum32()%uint32(p.dimension)]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v * v)
		}
		if norm > 0 {
			n := float32(math.Sqrt(norm))
			for j := range vec {
				vec[j] /= n
			}
		}
		out[i] = vec
	}
	return out, nil
}

// Dimension returns the fixed vector size.
func (p *HashProvider) Dimension() int { return p.dimension }
