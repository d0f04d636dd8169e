package localfs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/kirillkom/command-router/internal/core/domain"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestListFiltersByExtensionAndSkipsHidden(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "runbooks/deploy.md", "deploy")
	writeFile(t, root, "notes.txt", "notes")
	writeFile(t, root, "image.png", "binary")
	writeFile(t, root, ".git/HEAD.md", "hidden")
	writeFile(t, root, ".draft.md", "hidden")

	storage, err := New(root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	keys, err := storage.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != "notes.txt" || keys[1] != "runbooks/deploy.md" {
		t.Fatalf("unexpected keys %v", keys)
	}

	rc, err := storage.Open(context.Background(), keys[1])
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	raw, _ := io.ReadAll(rc)
	if string(raw) != "deploy" {
		t.Fatalf("unexpected content %q", raw)
	}
}

func TestOpenRejectsKeysOutsideRoot(t *testing.T) {
	storage, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := storage.Open(context.Background(), "../etc/passwd"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestNewRejectsMissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration fault, got %v", err)
	}
}
