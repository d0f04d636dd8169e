package ports

import (
	"context"

	"github.com/kirillkom/command-router/internal/core/domain"
)

// CommandDispatcher is the inbound contract for running one operator command through the gates past rate limiting.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, cmd domain.Command) domain.Answer
}

// CommandClassifier maps raw text to exactly one parsed command.
type CommandClassifier interface {
	Classify(text string) domain.ParsedCommand
}

// RetrievalAnswerer answers free-text questions from the indexed corpus.
type RetrievalAnswerer interface {
	Answer(ctx context.Context, query string) domain.Answer
	Retrieve(ctx context.Context, query string, limit int) (domain.RetrievalResult, error)
}
