package timeline

import (
	"math"
	"sort"
)

// WordTimeAxis maps word indices to estimated playback times. t[0] is 0 and
// the sequence never decreases nor exceeds the duration it was built from.
type WordTimeAxis struct {
	times    []float64
	duration float64
}

// Estimate spreads wordCount words uniformly over duration seconds:
// t[i] = i / wordCount * duration.
func Estimate(wordCount int, duration float64) WordTimeAxis {
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration < 0 {
		duration = 0
	}
	if wordCount <= 0 {
		return WordTimeAxis{duration: duration}
	}
	times := make([]float64, wordCount)
	n := float64(wordCount)
	for i := range times {
		times[i] = float64(i) / n * duration
	}
	return WordTimeAxis{times: times, duration: duration}
}

func (a WordTimeAxis) Len() int {
	return len(a.times)
}

func (a WordTimeAxis) Duration() float64 {
	return a.duration
}

// Times 返回时间轴副本
func (a WordTimeAxis) Times() []float64 {
	out := make([]float64, len(a.times))
	copy(out, a.times)
	return out
}

// TimeAt returns the start time of word i, clamped to the axis.
func (a WordTimeAxis) TimeAt(i int) float64 {
	if len(a.times) == 0 || i <= 0 {
		return 0
	}
	if i >= len(a.times) {
		i = len(a.times) - 1
	}
	return a.times[i]
}

// WordIndexAt returns the greatest i with t[i] <= t. Times before the start map
// to 0; an empty axis yields -1.
func (a WordTimeAxis) WordIndexAt(t float64) int {
	if len(a.times) == 0 {
		return -1
	}
	i := sort.Search(len(a.times), func(i int) bool { return a.times[i] > t }) - 1
	if i < 0 {
		return 0
	}
	return i
}

// EndAt 返回第 i 个词的结束时间（下一个词的开始，最后一个词为总时长）
func (a WordTimeAxis) EndAt(i int) float64 {
	if i+1 < len(a.times) && i >= 0 {
		return a.times[i+1]
	}
	return a.duration
}
