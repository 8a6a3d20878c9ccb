package highlight

import (
	"errors"
)

// ErrUnitOutOfRange 单元下标越界
var ErrUnitOutOfRange = errors.New("highlight unit out of range")

// Seeker is the playback surface driven by click-to-seek.
type Seeker interface {
	SeekTime(t float64) error
}

// Track follows the active unit of one granularity across time updates. It is
// not safe for concurrent use.
type Track struct {
	granularity Granularity
	units       []Unit
	active      int
}

func NewTrack(g Granularity, units []Unit) *Track {
	return &Track{granularity: g, units: units, active: -1}
}

func (t *Track) Granularity() Granularity {
	return t.granularity
}

// Units returns the track's units; callers must not modify them.
func (t *Track) Units() []Unit {
	return t.units
}

func (t *Track) Len() int {
	return len(t.units)
}

// Active 当前激活单元，尚未更新时为 -1
func (t *Track) Active() int {
	return t.active
}

// Update recomputes the active unit for time and reports whether it changed.
func (t *Track) Update(time float64) (int, bool) {
	idx := ActiveIndex(t.units, time)
	if idx == t.active {
		return idx, false
	}
	t.active = idx
	return idx, true
}

// Reset 清除激活状态
func (t *Track) Reset() {
	t.active = -1
}

// StartOf returns the start time of unit i.
func (t *Track) StartOf(i int) (float64, bool) {
	if i < 0 || i >= len(t.units) {
		return 0, false
	}
	return t.units[i].Start, true
}

// Seek moves playback to the start of unit i.
func (t *Track) Seek(s Seeker, i int) error {
	start, ok := t.StartOf(i)
	if !ok {
		return ErrUnitOutOfRange
	}
	return s.SeekTime(start)
}
