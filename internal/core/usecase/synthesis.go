package usecase

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/command-router/internal/core/domain"
)

const (
	insufficientContextText = "I don't have enough context to answer that from the indexed documents."

	ragSystemPrompt = "You answer operator questions using only the numbered context passages. " +
		"Refer to passages by their [n] marker. If the passages do not contain the answer, say that you don't have enough context."

	maxPassageChars = 1500
)

// buildRAGPrompt renders the question and passages. Citations must be built from the same slice.
func buildRAGPrompt(query string, passages []domain.Candidate) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\nContext:\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] (source: %s, id: %s)\n%s\n\n", i+1, sourceLabel(p.Document), p.Document.ID, clip(p.Document.Text, maxPassageChars))
	}
	b.WriteString("Answer concisely.")
	return b.String()
}

func citationsFor(passages []domain.Candidate) []domain.Citation {
	out := make([]domain.Citation, 0, len(passages))
	for _, p := range passages {
		out = append(out, domain.Citation{
			DocumentID: p.Document.ID,
			SourceRef:  sourceLabel(p.Document),
			Score:      p.FusedScore,
		})
	}
	return out
}

func formatWithCitations(text string, citations []domain.Citation) string {
	text = strings.TrimSpace(text)
	if len(citations) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\nSources:")
	for i, c := range citations {
		fmt.Fprintf(&b, "\n[%d] %s (%s)", i+1, c.SourceRef, c.DocumentID)
	}
	return b.String()
}

func insufficientContext(code int) domain.Answer {
	return domain.Answer{Text: insufficientContextText, Code: code}
}

func sourceLabel(doc domain.IndexedDocument) string {
	if s := strings.TrimSpace(doc.SourceRef); s != "" {
		return s
	}
	return doc.ID
}

func clip(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := s[:limit]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "…"
}
