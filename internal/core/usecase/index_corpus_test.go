package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/command-router/internal/core/domain"
)

type corpusSourceFake struct {
	keys []string
	err  error
}

func (f corpusSourceFake) List(context.Context) ([]string, error) { return f.keys, f.err }

func (f corpusSourceFake) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

type extractorFake struct {
	texts map[string]string
	errs  map[string]error
}

func (f extractorFake) Extract(_ context.Context, key string) (string, error) {
	if err := f.errs[key]; err != nil {
		return "", err
	}
	return f.texts[key], nil
}

type lineChunker struct{}

func (lineChunker) Split(text string) []string { return strings.Fields(text) }

type indexWriterFake struct {
	docs  []domain.IndexedDocument
	calls int
}

func (f *indexWriterFake) Write(_ context.Context, docs []domain.IndexedDocument) error {
	f.calls++
	f.docs = docs
	return nil
}

func TestIndexCorpusBuildsChunkDocuments(t *testing.T) {
	embedder := &queryEmbedderFake{}
	writer := &indexWriterFake{}
	uc := NewIndexCorpusUseCase(
		corpusSourceFake{keys: []string{"a.md", "blank.md", "bin.txt"}},
		extractorFake{
			texts: map[string]string{"a.md": "one two three"},
			errs:  map[string]error{"bin.txt": domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("binary"))},
		},
		lineChunker{}, embedder, writer, 2,
	)

	report, err := uc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Files != 1 || report.Skipped != 2 || report.Chunks != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
	if embedder.calls != 2 {
		t.Fatalf("expected two embedding batches, got %d", embedder.calls)
	}
	if len(writer.docs) != 3 || writer.docs[2].ID != "a.md#2" || writer.docs[2].Text != "three" || writer.docs[2].SourceRef != "a.md" {
		t.Fatalf("unexpected docs %+v", writer.docs)
	}
}

func TestIndexCorpusAbortsOnEmbedFailure(t *testing.T) {
	writer := &indexWriterFake{}
	uc := NewIndexCorpusUseCase(
		corpusSourceFake{keys: []string{"a.md"}},
		extractorFake{texts: map[string]string{"a.md": "one"}},
		lineChunker{}, &queryEmbedderFake{err: errors.New("ollama down")}, writer, 0,
	)
	if _, err := uc.Run(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if writer.calls != 0 {
		t.Fatalf("snapshot must not be written after a failure")
	}
}

func TestIndexCorpusRejectsEmptyCorpus(t *testing.T) {
	uc := NewIndexCorpusUseCase(corpusSourceFake{}, extractorFake{}, lineChunker{}, &queryEmbedderFake{}, &indexWriterFake{}, 0)
	if _, err := uc.Run(context.Background()); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
