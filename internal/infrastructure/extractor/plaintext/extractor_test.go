package plaintext

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/command-router/internal/core/domain"
)

type sourceFake map[string]string

func (f sourceFake) List(context.Context) ([]string, error) { return nil, nil }

func (f sourceFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	content, ok := f[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func TestExtractNormalizesText(t *testing.T) {
	e := NewExtractor(sourceFake{"a.txt": "\ufeff# Title  \r\nbody\r\n\r\n\r\n\r\nnext\t\r\n"})
	text, err := e.Extract(context.Background(), "a.txt")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "# Title\nbody\n\nnext" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestExtractStripsMarkdownFrontMatter(t *testing.T) {
	doc := "---\ntitle: Key rotation\ntags: [ops]\n---\nRotate the signing keys monthly."
	e := NewExtractor(sourceFake{"ops/keys.md": doc, "ops/keys.txt": doc})

	text, err := e.Extract(context.Background(), "ops/keys.md")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "Rotate the signing keys monthly." {
		t.Fatalf("expected front matter to be dropped, got %q", text)
	}

	text, err = e.Extract(context.Background(), "ops/keys.txt")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.HasPrefix(text, "---") {
		t.Fatalf("plain text must be kept as is, got %q", text)
	}
}

func TestExtractRejectsBinary(t *testing.T) {
	e := NewExtractor(sourceFake{
		"b.txt": string([]byte{0xff, 0xfe, 0x00}),
		"c.txt": "valid utf8 with a \x00 byte",
	})
	for _, key := range []string{"b.txt", "c.txt"} {
		if _, err := e.Extract(context.Background(), key); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", key, err)
		}
	}
}

func TestExtractPropagatesOpenError(t *testing.T) {
	e := NewExtractor(sourceFake{})
	if _, err := e.Extract(context.Background(), "missing.md"); err == nil {
		t.Fatalf("expected error")
	}
}
