package usecase

import (
	"testing"

	"github.com/kirillkom/command-router/internal/core/domain"
)

func scored(id string, score float64) domain.ScoredDocument {
	return domain.ScoredDocument{Document: domain.IndexedDocument{ID: id, Text: id}, Score: score}
}

func TestUnionCandidatesKeepsBestScorePerDocument(t *testing.T) {
	got := unionCandidates([][]domain.ScoredDocument{
		{scored("doc-1", 0.5), scored("doc-2", 0.7)},
		{scored("doc-1", 0.9), scored("doc-3", 0.7)},
	})
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	if got[0].Document.ID != "doc-1" || got[0].VectorScore != 0.9 || got[0].VectorRank != 1 {
		t.Fatalf("unexpected first candidate: %+v", got[0])
	}
	if got[1].Document.ID != "doc-2" || got[2].Document.ID != "doc-3" {
		t.Fatalf("expected tie broken by id, got %s then %s", got[1].Document.ID, got[2].Document.ID)
	}
}

func TestFuseLexicalReordersByWeightedSum(t *testing.T) {
	candidates := unionCandidates([][]domain.ScoredDocument{{scored("a", 0.80), scored("b", 0.75)}})
	fused := fuseLexical(candidates, []float64{0, 2}, FusionWeights{Lexical: 0.4, Vector: 0.6})

	if fused[0].Document.ID != "b" {
		t.Fatalf("expected lexical evidence to lift b, got order %s,%s", fused[0].Document.ID, fused[1].Document.ID)
	}
	if fused[0].LexicalScore == nil || *fused[0].LexicalScore != 1 {
		t.Fatalf("expected normalized lexical score 1, got %v", fused[0].LexicalScore)
	}
	if candidates[0].Document.ID != "a" {
		t.Fatalf("fusion must not mutate its input")
	}
}

func TestFuseLexicalWithoutScoresKeepsVectorOrder(t *testing.T) {
	candidates := unionCandidates([][]domain.ScoredDocument{{scored("a", 0.9), scored("b", 0.1)}})
	got := fuseLexical(candidates, nil, FusionWeights{Lexical: 0.4, Vector: 0.6})
	if got[0].Document.ID != "a" || got[0].LexicalScore != nil {
		t.Fatalf("expected untouched vector order, got %+v", got)
	}
}

func TestFuseLexicalTiesFallBackToVectorRank(t *testing.T) {
	candidates := unionCandidates([][]domain.ScoredDocument{{scored("x", 0.5), scored("y", 0.5)}})
	got := fuseLexical(candidates, []float64{0, 0}, FusionWeights{Lexical: 0.4, Vector: 0.6})
	if got[0].Document.ID != "x" {
		t.Fatalf("expected vector rank tie-break, got %s first", got[0].Document.ID)
	}
}
