package timeline

import (
	"strings"
	"unicode/utf8"

	"narrator-server-go/internal/domain/text"
)

// Heuristic weights for WeightedDurations. Only the normalization to the total
// duration is fixed; these may be tuned freely.
var (
	PunctuationWeight       = 2.0
	SentenceLengthWeight    = 0.15
	ReferenceSentenceLength = 80.0
)

// Span 时间区间
type Span struct {
	Start float64
	End   float64
}

// WeightedDurations estimates how long each unit takes to speak and scales the
// estimates so that they sum to total. Units are weighted by character count,
// pause punctuation density and average sentence length.
func WeightedDurations(units []string, total float64) []float64 {
	out := make([]float64, len(units))
	if len(units) == 0 || total <= 0 {
		return out
	}

	weights := make([]float64, len(units))
	var sum float64
	for i, u := range units {
		weights[i] = unitWeight(u)
		sum += weights[i]
	}
	if sum == 0 {
		for i := range weights {
			weights[i] = 1
		}
		sum = float64(len(weights))
	}

	var assigned float64
	for i := 0; i < len(units)-1; i++ {
		out[i] = weights[i] / sum * total
		assigned += out[i]
	}
	// 最后一项吸收浮点误差
	last := total - assigned
	if last < 0 {
		last = 0
	}
	out[len(out)-1] = last
	return out
}

func unitWeight(unit string) float64 {
	unit = strings.TrimSpace(unit)
	chars := utf8.RuneCountInString(unit)
	if chars == 0 {
		return 0
	}

	punct := 0
	for _, r := range unit {
		if isPause(r) {
			punct++
		}
	}
	sentences := len(text.Sentences(unit))
	if sentences == 0 {
		sentences = 1
	}

	c := float64(chars)
	density := float64(punct) / c
	avgSentence := c / float64(sentences)

	// 短句停顿更多
	sentenceFactor := 1 + SentenceLengthWeight*(ReferenceSentenceLength/avgSentence)
	if sentenceFactor > 3 {
		sentenceFactor = 3
	}
	return c * (1 + PunctuationWeight*density) * sentenceFactor
}

func isPause(r rune) bool {
	switch r {
	case ',', ';', ':', '.', '!', '?', '—', '，', '；', '：', '。', '！', '？', '、':
		return true
	}
	return false
}

// Spans accumulates durations into back-to-back intervals starting at 0.
func Spans(durations []float64) []Span {
	spans := make([]Span, len(durations))
	var cursor float64
	for i, d := range durations {
		if d < 0 {
			d = 0
		}
		spans[i] = Span{Start: cursor, End: cursor + d}
		cursor += d
	}
	return spans
}
