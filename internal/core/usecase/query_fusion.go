package usecase

import (
	"sort"

	"github.com/kirillkom/command-router/internal/core/domain"
)

// FusionWeights combine normalized lexical and vector scores.
type FusionWeights struct {
	Lexical float64
	Vector  float64
}

// unionCandidates merges per-variant hits by document id, keeping the best vector score.
// VectorRank is the 1-based position after sorting by that score, ties broken by id.
func unionCandidates(perVariant [][]domain.ScoredDocument) []domain.Candidate {
	best := make(map[string]domain.ScoredDocument)
	for _, hits := range perVariant {
		for _, hit := range hits {
			current, ok := best[hit.Document.ID]
			if !ok || hit.Score > current.Score {
				best[hit.Document.ID] = hit
			}
		}
	}

	out := make([]domain.Candidate, 0, len(best))
	for _, hit := range best {
		out = append(out, domain.Candidate{
			Document:    hit.Document,
			VectorScore: hit.Score,
			FusedScore:  hit.Score,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].VectorScore != out[j].VectorScore {
			return out[i].VectorScore > out[j].VectorScore
		}
		return out[i].Document.ID < out[j].Document.ID
	})
	for i := range out {
		out[i].VectorRank = i + 1
	}
	return out
}

// atLeast keeps candidates whose vector score reaches minScore. Order is preserved.
func atLeast(c []domain.Candidate, minScore float64) []domain.Candidate {
	if minScore <= 0 {
		return c
	}
	out := c[:0]
	for _, cand := range c {
		if cand.VectorScore >= minScore {
			out = append(out, cand)
		}
	}
	return out
}

// fuseLexical rescores candidates with lexical scores normalized by their maximum.
// A nil or mismatched score slice leaves the vector order untouched.
func fuseLexical(candidates []domain.Candidate, lexical []float64, w FusionWeights) []domain.Candidate {
	if len(candidates) == 0 || len(lexical) != len(candidates) {
		return candidates
	}

	maxLex := 0.0
	for _, s := range lexical {
		if s > maxLex {
			maxLex = s
		}
	}

	out := make([]domain.Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		lex := 0.0
		if maxLex > 0 {
			lex = lexical[i] / maxLex
		}
		out[i].LexicalScore = &lex
		out[i].FusedScore = w.Lexical*lex + w.Vector*out[i].VectorScore
	}
	sortByFused(out)
	return out
}

func sortByFused(c []domain.Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].FusedScore != c[j].FusedScore {
			return c[i].FusedScore > c[j].FusedScore
		}
		return c[i].VectorRank < c[j].VectorRank
	})
}

func trimCandidates(c []domain.Candidate, limit int) []domain.Candidate {
	if limit <= 0 || len(c) <= limit {
		return c
	}
	return c[:limit]
}
