package text

import (
	"regexp"
	"strings"
	"unicode"
)

var paragraphBreak = regexp.MustCompile(`\n[ \t\r]*\n`)

// Words 按空白切分单词
func Words(text string) []string {
	return strings.Fields(text)
}

// WordCount returns the number of whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Sentences splits text after sentence-ending punctuation. Punctuation stays
// attached to its sentence; runs of closing quotes and brackets are kept too.
func Sentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isSentenceEnd(runes[i]) {
			continue
		}
		end := i + 1
		for end < len(runes) && (isSentenceEnd(runes[end]) || isClosing(runes[end])) {
			end++
		}
		if end < len(runes) && !unicode.IsSpace(runes[end]) && !isCJKSentenceEnd(runes[i]) {
			// 缩写或小数点
			continue
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		start = end
		i = end - 1
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Paragraphs 按空行切分段落；没有空行时按单个换行切分
func Paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := paragraphBreak.Split(text, -1)
	if len(parts) == 1 {
		parts = strings.Split(text, "\n")
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isClosing(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '」', '』', '）':
		return true
	}
	return false
}
