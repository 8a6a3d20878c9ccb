// Package highlight resolves which piece of a transcript is active for a given
// playback time. Words, sentences, paragraphs and externally timestamped
// segments are all reduced to []Unit; everything downstream is shared.
package highlight

import (
	"fmt"
	"sort"
	"strings"

	"narrator-server-go/internal/domain/text"
	"narrator-server-go/internal/domain/timeline"
)

// Granularity 高亮粒度
type Granularity string

const (
	GranularityWord      Granularity = "word"
	GranularitySentence  Granularity = "sentence"
	GranularityParagraph Granularity = "paragraph"
	GranularitySegment   Granularity = "segment"
)

// Granularities lists every supported granularity in display order.
var Granularities = []Granularity{GranularityWord, GranularitySentence, GranularityParagraph, GranularitySegment}

func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Granularities {
		if g == known {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown granularity: %q", s)
}

// Unit is one highlightable span of the transcript with resolved timing.
type Unit struct {
	Index int     `json:"index"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is an externally timestamped span supplied by the caller.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// WordUnits 按均匀时间轴为每个词生成单元
func WordUnits(words []string, axis timeline.WordTimeAxis) []Unit {
	units := make([]Unit, len(words))
	for i, w := range words {
		units[i] = Unit{Index: i, Text: w, Start: axis.TimeAt(i), End: axis.EndAt(i)}
	}
	return units
}

// SentenceUnits splits content into sentences timed by the weighted estimator.
func SentenceUnits(content string, duration float64) []Unit {
	return weightedUnits(text.Sentences(content), duration)
}

// ParagraphUnits splits content into paragraphs timed by the weighted estimator.
func ParagraphUnits(content string, duration float64) []Unit {
	return weightedUnits(text.Paragraphs(content), duration)
}

func weightedUnits(parts []string, duration float64) []Unit {
	spans := timeline.Spans(timeline.WeightedDurations(parts, duration))
	units := make([]Unit, len(parts))
	for i, p := range parts {
		units[i] = Unit{Index: i, Text: p, Start: spans[i].Start, End: spans[i].End}
	}
	return units
}

// SegmentUnits converts caller-supplied segments, ordered by start time.
// A segment whose end precedes its start is treated as zero length.
func SegmentUnits(segments []Segment) []Unit {
	sorted := make([]Segment, len(segments))
	copy(sorted, segments)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	units := make([]Unit, len(sorted))
	for i, s := range sorted {
		start := s.Start
		if start < 0 {
			start = 0
		}
		end := s.End
		if end < start {
			end = start
		}
		units[i] = Unit{Index: i, Text: s.Text, Start: start, End: end}
	}
	return units
}

// ActiveIndex returns the unit whose [Start, End) holds t. Before the first
// unit it returns 0, after the last one the last index, and inside a gap the
// unit that started most recently. No units yields -1.
func ActiveIndex(units []Unit, t float64) int {
	if len(units) == 0 {
		return -1
	}
	i := sort.Search(len(units), func(i int) bool { return units[i].Start > t }) - 1
	if i < 0 {
		return 0
	}
	return i
}
