package audio

import (
	"sync"
	"time"

	"narrator-server-go/internal/platform/errors"
	"narrator-server-go/internal/platform/logging"

	"github.com/google/uuid"
)

// Library tracks live assembled resources by handle.
type Library struct {
	mu    sync.RWMutex
	items map[string]*Assembled
}

func NewLibrary() *Library {
	return &Library{items: make(map[string]*Assembled)}
}

func (l *Library) add(a *Assembled) {
	l.mu.Lock()
	l.items[a.ID] = a
	l.mu.Unlock()
}

// Get 按句柄查找未释放的音频
func (l *Library) Get(id string) (*Assembled, bool) {
	l.mu.RLock()
	a, ok := l.items[id]
	l.mu.RUnlock()
	if !ok || a.Released() {
		return nil, false
	}
	return a, true
}

// Release frees the resource behind id. It reports whether anything was released.
func (l *Library) Release(id string) bool {
	l.mu.Lock()
	a, ok := l.items[id]
	delete(l.items, id)
	l.mu.Unlock()
	if !ok {
		return false
	}
	return a.release()
}

func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// ReleaseAll 释放全部资源，返回释放数量
func (l *Library) ReleaseAll() int {
	l.mu.Lock()
	items := l.items
	l.items = make(map[string]*Assembled)
	l.mu.Unlock()

	n := 0
	for _, a := range items {
		if a.release() {
			n++
		}
	}
	return n
}

// Assembler concatenates chunk buffers into one playable resource.
type Assembler struct {
	library *Library
	probe   DurationProbe
	logger  *logging.Logger
	now     func() time.Time
}

// NewAssembler 创建拼接器；probe 为 nil 时不计算时长
func NewAssembler(library *Library, probe DurationProbe, logger *logging.Logger) *Assembler {
	if library == nil {
		library = NewLibrary()
	}
	return &Assembler{library: library, probe: probe, logger: logger, now: time.Now}
}

func (a *Assembler) Library() *Library {
	return a.library
}

// Assemble concatenates buffers in slice order. Every buffer must be present and
// share one MIME type. The total duration is the sum of probed segment durations.
func (a *Assembler) Assemble(buffers []*Buffer) (*Assembled, error) {
	if len(buffers) == 0 {
		return nil, errors.New(errors.KindPlayback, "audio.assemble", "no audio buffers to assemble")
	}

	mimeType := ""
	total := 0
	for i, buf := range buffers {
		if buf == nil || len(buf.Data) == 0 {
			return nil, errors.Newf(errors.KindPlayback, "audio.assemble", "chunk %d has no audio", i)
		}
		if mimeType == "" {
			mimeType = buf.MIMEType
		} else if buf.MIMEType != mimeType {
			return nil, errors.Newf(errors.KindPlayback, "audio.assemble",
				"chunk %d has mime type %q, expected %q", i, buf.MIMEType, mimeType)
		}
		total += len(buf.Data)
	}

	data := make([]byte, 0, total)
	segments := make([]Segment, len(buffers))
	var duration float64
	for i, buf := range buffers {
		seg := Segment{Index: i, Offset: len(data), Size: len(buf.Data)}
		if a.probe != nil {
			d, err := a.probe.Duration(buf)
			if err != nil {
				return nil, errors.Wrap(errors.KindPlayback, "audio.probe", "failed to decode chunk audio", err)
			}
			seg.Duration = d
			duration += d
		}
		segments[i] = seg
		data = append(data, buf.Data...)
	}

	assembled := &Assembled{
		ID:        uuid.NewString(),
		MIMEType:  mimeType,
		Segments:  segments,
		Size:      len(data),
		Duration:  duration,
		CreatedAt: a.now(),
		data:      data,
	}
	a.library.add(assembled)

	a.logger.DebugTag("音频", "拼接完成 id=%s 分片=%d 大小=%d 时长=%.2fs", assembled.ID, len(buffers), len(data), duration)
	return assembled, nil
}
