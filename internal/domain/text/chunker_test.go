package text

import (
	"math/rand"
	"strings"
	"testing"
	"unicode"
)

func TestChunk(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		maxSize int
		want    []string
	}{
		{
			name:    "blank text",
			text:    "  \n\t ",
			maxSize: 10,
			want:    nil,
		},
		{
			name:    "fits in one chunk",
			text:    "  short text  ",
			maxSize: 100,
			want:    []string{"short text"},
		},
		{
			name:    "prefers sentence end then whitespace",
			text:    "Hello there. General Kenobi",
			maxSize: 10,
			want:    []string{"Hello", "there.", "General", "Kenobi"},
		},
		{
			name:    "hard cut without whitespace",
			text:    "abcdefghijklmnopqrstuvwxyz",
			maxSize: 10,
			want:    []string{"abcdefghij", "klmnopqrst", "uvwxyz"},
		},
		{
			name:    "cjk sentence end without space",
			text:    "你好世界。今天天气很好。我们去公园吧。",
			maxSize: 10,
			want:    []string{"你好世界。", "今天天气很好。", "我们去公园吧。"},
		},
		{
			name:    "paragraph break wins over sentence end",
			text:    "One. Two.\n\nThree four five six.",
			maxSize: 16,
			want:    []string{"One. Two.", "Three four five", "six."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Chunk(tt.text, tt.maxSize)
			if len(chunks) != len(tt.want) {
				t.Fatalf("expected %d chunks, got %d: %#v", len(tt.want), len(chunks), chunks)
			}
			for i, c := range chunks {
				if c.Index != i {
					t.Fatalf("chunk %d has index %d", i, c.Index)
				}
				if c.Content != tt.want[i] {
					t.Fatalf("chunk %d = %q, want %q", i, c.Content, tt.want[i])
				}
			}
		})
	}
}

func TestChunkDefaultSize(t *testing.T) {
	text := strings.Repeat("word ", 1000)
	chunks := Chunk(text, 0)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks at default size, got %d", len(chunks))
	}
	if chunks[0].Len() > DefaultMaxChunkSize {
		t.Fatalf("first chunk exceeds default size: %d", chunks[0].Len())
	}
}

func TestChunkRoundTrip(t *testing.T) {
	alphabet := []rune{'a', 'b', 'c', ' ', ' ', '\n', '.', '!', '?', '。', 'é', '字'}
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 500; iter++ {
		n := rng.Intn(300)
		runes := make([]rune, n)
		for i := range runes {
			runes[i] = alphabet[rng.Intn(len(alphabet))]
		}
		src := string(runes)
		size := 1 + rng.Intn(60)

		chunks := Chunk(src, size)
		if got, want := Join(chunks), strings.TrimSpace(src); got != want {
			t.Fatalf("round trip mismatch (size=%d)\n got: %q\nwant: %q", size, got, want)
		}
		for _, c := range chunks {
			if c.Len() == 0 {
				t.Fatalf("empty chunk for %q size %d", src, size)
			}
			if c.Len() > size {
				t.Fatalf("chunk of %d runes exceeds %d", c.Len(), size)
			}
			if strings.TrimSpace(c.Content) != c.Content {
				t.Fatalf("chunk not trimmed: %q", c.Content)
			}
			if strings.TrimFunc(c.Trailing, unicode.IsSpace) != "" {
				t.Fatalf("trailing holds non-space: %q", c.Trailing)
			}
		}
	}
}

func TestChunkShortTextScenario(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("listen ", 50))
	if WordCount(text) != 50 {
		t.Fatalf("fixture should have 50 words")
	}
	if chunks := Chunk(text, 4000); len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
}

func TestChunkLongTextScenario(t *testing.T) {
	paragraph := strings.Repeat("x", 997) + "."
	paragraphs := make([]string, 10)
	for i := range paragraphs {
		paragraphs[i] = paragraph
	}
	text := strings.Join(paragraphs, "\n\n") + "\n\n"
	if len([]rune(text)) != 10000 {
		t.Fatalf("fixture length = %d", len([]rune(text)))
	}

	chunks := Chunk(text, 4000)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if !strings.HasSuffix(c.Content, paragraph) {
			t.Fatalf("chunk %d does not end at a paragraph boundary", i)
		}
		if i < len(chunks)-1 && c.Trailing != "\n\n" {
			t.Fatalf("chunk %d trailing = %q", i, c.Trailing)
		}
	}
}
