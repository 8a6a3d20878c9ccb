package tts

import (
	"fmt"
	"strings"
)

const (
	MinSpeed = 0.25
	MaxSpeed = 4.0

	// FormatMP3 是唯一支持的输出格式，时长由 MP3 解码得出
	FormatMP3 = "mp3"
)

// Settings selects how a text is voiced. Together with the chunk text it forms
// the cache key.
type Settings struct {
	Model  string  `json:"model"`
	Voice  string  `json:"voice"`
	Speed  float64 `json:"speed"`
	Format string  `json:"format"`
}

// WithDefaults 用默认值填充空字段
func (s Settings) WithDefaults(def Settings) Settings {
	s.Model = strings.TrimSpace(s.Model)
	s.Voice = strings.TrimSpace(s.Voice)
	if s.Model == "" {
		s.Model = def.Model
	}
	if s.Voice == "" {
		s.Voice = def.Voice
	}
	if s.Speed == 0 {
		s.Speed = def.Speed
	}
	if s.Speed == 0 {
		s.Speed = 1
	}
	if s.Format == "" {
		s.Format = def.Format
	}
	if s.Format == "" {
		s.Format = FormatMP3
	}
	return s
}

func (s Settings) Validate() error {
	if s.Voice == "" {
		return fmt.Errorf("voice cannot be empty")
	}
	if s.Speed < MinSpeed || s.Speed > MaxSpeed {
		return fmt.Errorf("invalid speed: %g", s.Speed)
	}
	if s.Format != FormatMP3 {
		return fmt.Errorf("unsupported format: %q", s.Format)
	}
	return nil
}
