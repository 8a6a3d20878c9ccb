package text

import (
	"strings"
	"unicode"
)

// DefaultMaxChunkSize 单次合成请求允许的默认最大字符数
const DefaultMaxChunkSize = 4000

// TextChunk is one bounded slice of the source text submitted to synthesis on its own.
// Trailing holds the whitespace dropped at the boundary after Content, so that
// Join restores the trimmed source exactly.
type TextChunk struct {
	Index    int
	Content  string
	Trailing string
}

// Len 返回分片内容的字符数
func (c TextChunk) Len() int {
	return len([]rune(c.Content))
}

// Chunk splits text into ordered chunks of at most maxSize characters.
//
// Split preference inside the back half of each window is: paragraph break,
// sentence end followed by whitespace, last whitespace, hard cut.
func Chunk(text string, maxSize int) []TextChunk {
	if maxSize <= 0 {
		maxSize = DefaultMaxChunkSize
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) <= maxSize {
		return []TextChunk{{Index: 0, Content: trimmed}}
	}

	chunks := make([]TextChunk, 0, len(runes)/maxSize+1)
	start := 0
	for len(runes)-start > maxSize {
		cut := findSplit(runes[start:], maxSize)
		end := start + cut

		contentEnd := end
		for contentEnd > start && unicode.IsSpace(runes[contentEnd-1]) {
			contentEnd--
		}
		next := end
		for next < len(runes) && unicode.IsSpace(runes[next]) {
			next++
		}

		chunks = append(chunks, TextChunk{
			Index:    len(chunks),
			Content:  string(runes[start:contentEnd]),
			Trailing: string(runes[contentEnd:next]),
		})
		start = next
	}
	if start < len(runes) {
		chunks = append(chunks, TextChunk{Index: len(chunks), Content: string(runes[start:])})
	}
	return chunks
}

// findSplit 返回切分位置（相对窗口起点），保证落在 [maxSize/2, maxSize] 区间内。
// 调用方保证 len(window) > maxSize。
func findSplit(window []rune, maxSize int) int {
	lo := maxSize / 2
	if lo < 1 {
		lo = 1
	}

	// 段落
	for p := maxSize - 1; p >= lo; p-- {
		if window[p] == '\n' && window[p+1] == '\n' {
			return p
		}
	}

	// 句末标点
	for p := maxSize - 1; p >= lo-1; p-- {
		if !isSentenceEnd(window[p]) {
			continue
		}
		if unicode.IsSpace(window[p+1]) || isCJKSentenceEnd(window[p]) {
			return p + 1
		}
	}

	// 空白
	for p := maxSize; p >= lo; p-- {
		if unicode.IsSpace(window[p]) {
			return p
		}
	}

	return maxSize
}

// Join concatenates chunks in index order, reinserting boundary whitespace.
func Join(chunks []TextChunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Content)
		b.WriteString(c.Trailing)
	}
	return b.String()
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func isCJKSentenceEnd(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}
