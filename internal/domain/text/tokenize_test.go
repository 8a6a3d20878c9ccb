package text

import (
	"reflect"
	"testing"
)

func TestSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"basic", "Hello world. How are you? I'm fine!", []string{"Hello world.", "How are you?", "I'm fine!"}},
		{"decimal stays inside", "Pi is 3.14 exactly. Yes.", []string{"Pi is 3.14 exactly.", "Yes."}},
		{"closing quote kept", `He said "stop." Then left`, []string{`He said "stop."`, "Then left"}},
		{"ellipsis run", "Wait... what?", []string{"Wait...", "what?"}},
		{"cjk", "你好。再见！", []string{"你好。", "再见！"}},
		{"empty", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sentences(tt.text); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Sentences(%q) = %#v, want %#v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParagraphs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"blank lines", "a b\n\nc\n \n\nd", []string{"a b", "c", "d"}},
		{"single newlines fallback", "one\ntwo\n\nthree", []string{"one\ntwo", "three"}},
		{"no blank lines", "one\ntwo", []string{"one", "two"}},
		{"crlf", "x\r\n\r\ny", []string{"x", "y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Paragraphs(tt.text); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Paragraphs(%q) = %#v, want %#v", tt.text, got, tt.want)
			}
		})
	}
}

func TestWords(t *testing.T) {
	if got := Words("  the quick\n brown\tfox "); !reflect.DeepEqual(got, []string{"the", "quick", "brown", "fox"}) {
		t.Fatalf("unexpected words: %#v", got)
	}
	if WordCount("") != 0 {
		t.Fatal("empty text should have no words")
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  hello  ", "hello"},
		{"tags and entities", "<p>Fish &amp; chips</p><p>Tea</p>", "Fish & chips\n\nTea"},
		{"script removed", "<script>var x = 1;</script>Body", "Body"},
		{"br", "a<br/>b", "a\n\nb"},
		{"control chars", "a\x00b\x07c", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTML(tt.in); got != tt.want {
				t.Fatalf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
