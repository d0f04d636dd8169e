package chunking

import (
	"strings"
	"unicode"
)

// Splitter cuts text into overlapping windows of at most ChunkSize runes, preferring to end a window at a
// paragraph break, then a sentence end, then whitespace, as long as that keeps at least half the window.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

func (s *Splitter) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	out := make([]string, 0, len(runes)/s.ChunkSize+1)
	for start := 0; start < len(runes); {
		end := start + s.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = s.boundary(runes, start, end)
		}
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
		next := end - s.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

func (s *Splitter) boundary(runes []rune, start, end int) int {
	floor := start + s.ChunkSize/2
	for _, isBreak := range []func(i int) bool{
		func(i int) bool { return runes[i-1] == '\n' && runes[i] == '\n' },
		func(i int) bool { return unicode.IsSpace(runes[i]) && strings.ContainsRune(".!?", runes[i-1]) },
		func(i int) bool { return unicode.IsSpace(runes[i]) },
	} {
		for i := end - 1; i > floor; i-- {
			if isBreak(i) {
				return i + 1
			}
		}
	}
	return end
}
