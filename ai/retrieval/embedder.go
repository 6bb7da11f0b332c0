package retrieval

import (
	"crypto/sha256"
	"math"
	"strings"
)

// Embedder produces deterministic, local feature-hashed vectors for
// retrieval spans. Boardroom Journal is local-first, so embedding never
// makes a network call; adapted from the hash-based fallback embedder
// (agents/rag/embedder.go's textToHashVector), promoted here from a
// dev-mode fallback to the only embedding path.
type Embedder struct {
	dimensions int
}

func NewEmbedder() *Embedder {
	return &Embedder{dimensions: 128}
}

// Embed returns a unit-ish vector built from unigram and bigram feature
// hashing over text, good enough for nearest-neighbor retrieval over a
// single user's own journal without ever leaving the device.
func (e *Embedder) Embed(text string) []float32 {
	text = strings.ToLower(strings.TrimSpace(text))
	words := strings.Fields(text)

	features := make(map[string]int)
	for _, w := range words {
		features[w]++
	}
	for i := 0; i+1 < len(words); i++ {
		features[words[i]+" "+words[i+1]]++
	}

	vector := make([]float32, e.dimensions)
	var magnitude float64
	for feature, count := range features {
		hash := sha256.Sum256([]byte(feature))
		idx := (int(hash[0])<<8 | int(hash[1])) % e.dimensions
		sign := float32(1.0)
		if hash[4]&1 == 1 {
			sign = -1.0
		}
		vector[idx] += sign * float32(count)
	}
	for _, v := range vector {
		magnitude += float64(v * v)
	}
	if magnitude > 0 {
		scale := float32(1.0 / math.Sqrt(magnitude))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector
}
