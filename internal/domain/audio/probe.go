package audio

import (
	"bytes"
	"fmt"

	"github.com/hajimehoshi/go-mp3"
)

// DurationProbe measures the playable duration of one audio buffer in seconds.
type DurationProbe interface {
	Duration(buf *Buffer) (float64, error)
}

// ProbeFunc adapts a function to DurationProbe.
type ProbeFunc func(buf *Buffer) (float64, error)

func (f ProbeFunc) Duration(buf *Buffer) (float64, error) {
	return f(buf)
}

// MP3Probe decodes MP3 data to compute its exact duration.
type MP3Probe struct{}

// go-mp3 输出 16 位双声道 PCM，每个采样帧 4 字节
const pcmFrameBytes = 4

func (MP3Probe) Duration(buf *Buffer) (float64, error) {
	if buf.Len() == 0 {
		return 0, fmt.Errorf("empty audio buffer")
	}
	decoder, err := mp3.NewDecoder(bytes.NewReader(buf.Data))
	if err != nil {
		return 0, fmt.Errorf("decode mp3: %w", err)
	}
	rate := decoder.SampleRate()
	length := decoder.Length()
	if rate <= 0 || length < 0 {
		return 0, fmt.Errorf("mp3 stream has no measurable length")
	}
	return float64(length) / pcmFrameBytes / float64(rate), nil
}
