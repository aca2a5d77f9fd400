// Package embedding turns keywords and queries into fixed-size vectors for
// the keyword search.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"regexp"
	"strings"
)

const DefaultDim = 256

// Embedder produces a vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dim() int
}

var tokenRe = regexp.MustCompile(`[0-9A-Za-zÀ-ỹ]+`)

// HashEmbedder is a stable feature-hashing embedder: word tokens and
// character trigrams are hashed into signed buckets and the result is
// L2-normalised. It needs no model and gives identical vectors across
// processes.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dim() int { return h.dim }

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	return h.Vector(text), nil
}

// Vector is Embed without the context.
func (h *HashEmbedder) Vector(text string) []float64 {
	vec := make([]float64, h.dim)
	s := strings.TrimSpace(text)
	if s == "" {
		return vec
	}

	low := strings.ToLower(s)
	for _, tok := range tokenRe.FindAllString(low, -1) {
		h.add(vec, tok, 1.0)
	}

	compact := []rune(strings.Join(strings.Fields(low), " "))
	if len(compact) >= 3 {
		for i := 0; i+3 <= len(compact); i++ {
			h.add(vec, string(compact[i:i+3]), 0.5)
		}
	}

	normalize(vec)
	return vec
}

func (h *HashEmbedder) add(vec []float64, feature string, weight float64) {
	sum := sha256.Sum256([]byte(feature))
	for i := 0; i+4 <= len(sum); i += 4 {
		idx := binary.LittleEndian.Uint32(sum[i:i+4]) % uint32(h.dim)
		sign := 1.0
		if sum[i]&1 == 1 {
			sign = -1.0
		}
		vec[idx] += sign * weight
	}
}

func normalize(vec []float64) {
	var sq float64
	for _, x := range vec {
		sq += x * x
	}
	if sq == 0 {
		return
	}
	n := math.Sqrt(sq)
	for i := range vec {
		vec[i] /= n
	}
}

// Cosine similarity over the shared prefix of a and b. Zero when either is
// empty or all zeros.
func Cosine(a, b []float64) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	den := math.Sqrt(na) * math.Sqrt(nb)
	if den == 0 {
		return 0
	}
	return dot / den
}

const maxQueryTerms = 12

// QueryTerms splits a search query into the phrases that get embedded: the
// whole compacted query when it has at least 3 characters, then each distinct
// token of 2+ characters.
func QueryTerms(q string) []string {
	low := strings.ToLower(strings.TrimSpace(q))
	if low == "" {
		return nil
	}

	var terms []string
	seen := map[string]bool{}
	compact := strings.Join(strings.Fields(low), " ")
	if len([]rune(compact)) >= 3 {
		terms = append(terms, compact)
		seen[compact] = true
	}
	for _, tok := range tokenRe.FindAllString(low, -1) {
		if len([]rune(tok)) < 2 || seen[tok] {
			continue
		}
		seen[tok] = true
		terms = append(terms, tok)
	}
	if len(terms) > maxQueryTerms {
		terms = terms[:maxQueryTerms]
	}
	return terms
}
