package text

import (
	"html"
	"regexp"
	"strings"
)

var (
	scriptBlock = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	blockBreak  = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|h[1-6]|li|blockquote)>`)
	angleTag    = regexp.MustCompile(`<[^>]*>`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
)

// StripHTML removes markup from text fed to the chunker. Block-level closing
// tags become paragraph breaks; entities are unescaped; control characters other
// than tab and newline are dropped.
func StripHTML(input string) string {
	if !strings.ContainsAny(input, "<&") {
		return strings.TrimSpace(RemoveControlCharacters(input))
	}
	out := scriptBlock.ReplaceAllString(input, "")
	out = blockBreak.ReplaceAllString(out, "\n\n")
	out = angleTag.ReplaceAllString(out, "")
	out = html.UnescapeString(out)
	out = RemoveControlCharacters(out)
	out = blankLines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// RemoveControlCharacters 移除控制字符，保留换行符和制表符
func RemoveControlCharacters(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' {
			return -1
		}
		if r < 32 && r != '\t' && r != '\n' {
			return -1
		}
		return r
	}, text)
}
