package reading

import (
	"regexp"
	"strings"
	"time"

	"narrator-server-go/internal/domain/highlight"
	"narrator-server-go/internal/domain/playback"
	"narrator-server-go/internal/domain/tts"
)

// PrepareRequest is one prepare call: the text to read and how to voice it.
type PrepareRequest struct {
	Text     string              `json:"text"`
	Model    string              `json:"model,omitempty"`
	Voice    string              `json:"voice,omitempty"`
	Speed    float64             `json:"speed,omitempty"`
	Rewrite  bool                `json:"rewrite,omitempty"`
	Segments []highlight.Segment `json:"segments,omitempty"`
}

func (r PrepareRequest) settings() tts.Settings {
	return tts.Settings{Model: r.Model, Voice: r.Voice, Speed: r.Speed}
}

// PrepareResult 一次准备的结果
type PrepareResult struct {
	// Superseded is set when a newer prepare took over before this one
	// finished; nothing else is filled in.
	Superseded bool    `json:"superseded,omitempty"`
	AudioID    string  `json:"audio_id,omitempty"`
	// Text 实际朗读的文本（清洗或改写之后）
	Text       string  `json:"text,omitempty"`
	Duration   float64 `json:"duration"`
	Chunks     int     `json:"chunks"`
	Words      int     `json:"words"`
	Title      string  `json:"title,omitempty"`
	Byline     string  `json:"byline,omitempty"`
	Rewritten  bool    `json:"rewritten,omitempty"`
	State      string  `json:"state"`
}

// Snapshot describes a session for the API.
type Snapshot struct {
	SessionID  string            `json:"session_id"`
	Playback   playback.Snapshot `json:"playback"`
	Settings   tts.Settings      `json:"settings"`
	Title      string            `json:"title,omitempty"`
	Byline     string            `json:"byline,omitempty"`
	Chunks     int               `json:"chunks"`
	Words      int               `json:"words"`
	Rewritten  bool              `json:"rewritten,omitempty"`
	PreparedAt *time.Time        `json:"prepared_at,omitempty"`
	LastActive time.Time         `json:"last_active"`
}

var htmlTag = regexp.MustCompile(`(?i)</?[a-z][a-z0-9]*(\s[^>]*)?/?>`)

// looksLikeHTML 判断输入是否包含 HTML 标签
func looksLikeHTML(s string) bool {
	return strings.Contains(s, "<") && htmlTag.MatchString(s)
}
