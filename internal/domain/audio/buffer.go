package audio

import (
	"bytes"
	"io"
	"strings"
	"sync/atomic"
	"time"
)

// MIMEMpeg 默认音频格式
const MIMEMpeg = "audio/mpeg"

// Buffer is an opaque synthesized audio payload. Once handed to a cache it must
// not be mutated; callers that need a writable copy use Clone.
type Buffer struct {
	Data     []byte
	MIMEType string
}

// NewBuffer 创建音频缓冲区，MIME 为空时默认为 audio/mpeg
func NewBuffer(data []byte, mimeType string) *Buffer {
	if mimeType == "" {
		mimeType = MIMEMpeg
	}
	return &Buffer{Data: data, MIMEType: mimeType}
}

// MIMEForFormat 根据输出格式返回 MIME 类型
func MIMEForFormat(format string) string {
	switch strings.ToLower(format) {
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/ogg"
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	case "pcm":
		return "audio/pcm"
	default:
		return MIMEMpeg
	}
}

func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// Clone returns a deep copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	if b == nil {
		return nil
	}
	data := make([]byte, len(b.Data))
	copy(data, b.Data)
	return &Buffer{Data: data, MIMEType: b.MIMEType}
}

// Segment 描述拼接结果中单个分片的位置
type Segment struct {
	Index    int
	Offset   int
	Size     int
	Duration float64
}

// Assembled is the ordered concatenation of one text's chunk audio, exposed
// under a single handle until released.
type Assembled struct {
	ID        string
	MIMEType  string
	Segments  []Segment
	Size      int
	Duration  float64
	CreatedAt time.Time

	data     []byte
	released atomic.Bool
}

// Bytes 返回拼接后的音频数据；释放后返回 nil
func (a *Assembled) Bytes() []byte {
	if a == nil || a.released.Load() {
		return nil
	}
	return a.data
}

// Reader returns a seekable reader over the assembled audio.
func (a *Assembled) Reader() io.ReadSeeker {
	return bytes.NewReader(a.Bytes())
}

func (a *Assembled) Released() bool {
	return a == nil || a.released.Load()
}

func (a *Assembled) release() bool {
	return a.released.CompareAndSwap(false, true)
}
