package localfs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kirillkom/command-router/internal/core/domain"
)

var defaultExtensions = []string{".md", ".markdown", ".txt", ".rst"}

// Storage exposes a directory tree of text documents as a read-only corpus source.
type Storage struct {
	basePath   string
	extensions map[string]struct{}
}

func New(basePath string, extensions ...string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/corpus"
	}
	info, err := os.Stat(basePath)
	if err != nil || !info.IsDir() {
		return nil, domain.WrapError(domain.ErrConfiguration, "open corpus", fmt.Errorf("%s is not a readable directory", basePath))
	}
	if len(extensions) == 0 {
		extensions = defaultExtensions
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}
	return &Storage{basePath: basePath, extensions: exts}, nil
}

// List returns slash-separated keys relative to the base path, sorted. Hidden files and directories are skipped.
func (s *Storage) List(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		name := d.Name()
		if path != s.basePath && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := s.extensions[strings.ToLower(filepath.Ext(name))]; !ok {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open corpus file", fmt.Errorf("key %q escapes the corpus root", key))
	}
	f, err := os.Open(filepath.Join(s.basePath, clean))
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}
