// Package hashing is a deterministic, dependency-free embedder based on signed feature hashing.
// It serves offline development and tests where no model endpoint is available.
package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const termSaturationK = 1.2

type Embedder struct {
	dim int
}

func New(dim int) *Embedder {
	return &Embedder{dim: dim}
}

func (e *Embedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e *Embedder) vector(text string) []float32 {
	vec := make([]float32, e.dim)
	if e.dim == 0 {
		return vec
	}

	termFreq := make(map[string]float64, 32)
	tokens := tokenizeAlphaNum(text)
	for _, token := range tokens {
		termFreq[token]++
	}
	// Adjacent pairs keep some word-order signal.
	for i := 1; i < len(tokens); i++ {
		termFreq[tokens[i-1]+"_"+tokens[i]] += 0.5
	}

	for term, tf := range termFreq {
		h := hashToken(term)
		idx := int(h % uint32(e.dim))
		weight := (tf * (termSaturationK + 1.0)) / (tf + termSaturationK)
		if h&(1<<31) != 0 {
			weight = -weight
		}
		vec[idx] += float32(weight)
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return h.Sum32()
}

func tokenizeAlphaNum(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
