package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kirillkom/command-router/internal/core/domain"
)

// Writer replaces a snapshot file atomically: docs go to a temp file in the same directory, then rename.
type Writer struct {
	path string
	dim  int
}

func NewWriter(path string, dim int) *Writer {
	return &Writer{path: path, dim: dim}
}

func (w *Writer) Write(ctx context.Context, docs []domain.IndexedDocument) error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".index-*.jsonl")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	defer os.Remove(tmp.Name())

	buf := bufio.NewWriter(tmp)
	enc := json.NewEncoder(buf)
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			tmp.Close()
			return err
		}
		if doc.ID == "" {
			tmp.Close()
			return domain.WrapError(domain.ErrInvalidInput, "write index", fmt.Errorf("document without id"))
		}
		if err := domain.CheckDimension("write index", doc.Vector, w.dim); err != nil {
			tmp.Close()
			return fmt.Errorf("document %s: %w", doc.ID, err)
		}
		if err := enc.Encode(doc); err != nil {
			tmp.Close()
			return fmt.Errorf("encode document %s: %w", doc.ID, err)
		}
	}
	if err := buf.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}
