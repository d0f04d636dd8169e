// Package plaintext turns corpus files (markdown, plain text) into indexable text.
package plaintext

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/command-router/internal/core/domain"
	"github.com/kirillkom/command-router/internal/core/ports"
)

const maxDocumentBytes = 8 << 20

var blankRuns = regexp.MustCompile(`\n{3,}`)

type Extractor struct {
	source ports.CorpusSource
}

func NewExtractor(source ports.CorpusSource) *Extractor {
	return &Extractor{source: source}
}

// Extract reads one corpus document and normalizes it for chunking. Binary or oversized files are
// invalid input; the indexer counts them as skipped.
func (e *Extractor) Extract(ctx context.Context, key string) (string, error) {
	rc, err := e.source.Open(ctx, key)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", key, err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(io.LimitReader(rc, maxDocumentBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	switch {
	case len(raw) > maxDocumentBytes:
		return "", domain.WrapError(domain.ErrInvalidInput, "extract "+key, fmt.Errorf("larger than %d bytes", maxDocumentBytes))
	case !utf8.Valid(raw), bytes.IndexByte(raw, 0) >= 0:
		return "", domain.WrapError(domain.ErrInvalidInput, "extract "+key, fmt.Errorf("not a text document"))
	}
	return normalize(key, string(raw)), nil
}

func normalize(key, text string) string {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if ext := strings.ToLower(path.Ext(key)); ext == ".md" || ext == ".markdown" {
		text = stripFrontMatter(text)
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}

// stripFrontMatter drops a leading YAML block delimited by "---" lines.
func stripFrontMatter(text string) string {
	if !strings.HasPrefix(text, "---\n") {
		return text
	}
	end := strings.Index(text[4:], "\n---\n")
	if end < 0 {
		return text
	}
	return text[4+end+5:]
}
