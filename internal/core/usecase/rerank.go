package usecase

import (
	"math"
	"strings"
	"unicode"
)

// BM25 scores documents against a query using statistics from the scored set itself.
type BM25 struct {
	K1 float64
	B  float64
}

func NewBM25() *BM25 {
	return &BM25{K1: 1.2, B: 0.75}
}

func (s *BM25) Score(query string, docs []string) []float64 {
	scores := make([]float64, len(docs))
	queryTokens := uniqueTokens(splitAlphaNumLower(query))
	if len(queryTokens) == 0 || len(docs) == 0 {
		return scores
	}

	termFreqs := make([]map[string]int, len(docs))
	docFreq := make(map[string]int)
	totalLen := 0
	for i, doc := range docs {
		tokens := splitAlphaNumLower(doc)
		totalLen += len(tokens)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for tok := range tf {
			docFreq[tok]++
		}
		termFreqs[i] = tf
	}
	avgLen := float64(totalLen) / float64(len(docs))
	if avgLen == 0 {
		return scores
	}

	n := float64(len(docs))
	for i, tf := range termFreqs {
		docLen := 0
		for _, c := range tf {
			docLen += c
		}
		var score float64
		for _, term := range queryTokens {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			df := float64(docFreq[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			score += idf * f * (s.K1 + 1) / (f + s.K1*(1-s.B+s.B*float64(docLen)/avgLen))
		}
		scores[i] = score
	}
	return scores
}

func uniqueTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
