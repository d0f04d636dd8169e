package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/kirillkom/command-router/internal/core/domain"
	"github.com/kirillkom/command-router/internal/core/ports"
)

type IndexReport struct {
	Files   int
	Skipped int
	Chunks  int
}

// IndexCorpusUseCase rebuilds the vector index snapshot from a directory of text documents.
type IndexCorpusUseCase struct {
	source    ports.CorpusSource
	extractor ports.TextExtractor
	chunker   ports.Chunker
	embedder  ports.Embedder
	writer    ports.IndexWriter
	batchSize int
}

func NewIndexCorpusUseCase(
	source ports.CorpusSource,
	extractor ports.TextExtractor,
	chunker ports.Chunker,
	embedder ports.Embedder,
	writer ports.IndexWriter,
	batchSize int,
) *IndexCorpusUseCase {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &IndexCorpusUseCase{
		source:    source,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		writer:    writer,
		batchSize: batchSize,
	}
}

// Run indexes every listed file. Unreadable or empty documents are skipped; any other failure aborts the run
// and leaves the previous snapshot in place.
func (uc *IndexCorpusUseCase) Run(ctx context.Context) (IndexReport, error) {
	keys, err := uc.source.List(ctx)
	if err != nil {
		return IndexReport{}, fmt.Errorf("list corpus: %w", err)
	}

	var (
		report IndexReport
		docs   []domain.IndexedDocument
	)
	for _, key := range keys {
		built, err := uc.processFile(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				slog.Warn("index_file_skipped", "key", key, "error", err)
				report.Skipped++
				continue
			}
			return report, err
		}
		report.Files++
		report.Chunks += len(built)
		docs = append(docs, built...)
	}

	if len(docs) == 0 {
		return report, domain.WrapError(domain.ErrInvalidInput, "index corpus", errors.New("corpus produced no documents"))
	}
	if err := uc.writer.Write(ctx, docs); err != nil {
		return report, fmt.Errorf("write index: %w", err)
	}
	return report, nil
}

func (uc *IndexCorpusUseCase) processFile(ctx context.Context, key string) ([]domain.IndexedDocument, error) {
	text, err := uc.extractText(ctx, key)
	if err != nil {
		return nil, err
	}
	chunks, err := uc.chunk(text)
	if err != nil {
		return nil, err
	}
	vectors, err := uc.embed(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}

	docs := make([]domain.IndexedDocument, len(chunks))
	for i, chunk := range chunks {
		docs[i] = domain.IndexedDocument{
			ID:        key + "#" + strconv.Itoa(i),
			Vector:    vectors[i],
			Text:      chunk,
			SourceRef: key,
			Metadata:  map[string]string{"chunk": strconv.Itoa(i)},
		}
	}
	return docs, nil
}

func (uc *IndexCorpusUseCase) extractText(ctx context.Context, key string) (string, error) {
	text, err := uc.extractor.Extract(ctx, key)
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	if text == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("empty extracted text"))
	}
	return text, nil
}

func (uc *IndexCorpusUseCase) chunk(text string) ([]string, error) {
	chunks := uc.chunker.Split(text)
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chunk document", errors.New("chunking produced zero chunks"))
	}
	return chunks, nil
}

func (uc *IndexCorpusUseCase) embed(ctx context.Context, chunks []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += uc.batchSize {
		end := min(start+uc.batchSize, len(chunks))
		batch, err := uc.embedder.Embed(ctx, chunks[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed chunks: %w", err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embed chunks: vectors/chunks mismatch: %d/%d", len(batch), end-start)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}
