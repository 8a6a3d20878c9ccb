package eventbus

import "time"

// 事件类型定义
const (
	// 播放相关事件
	EventPlaybackState    = "playback:state"
	EventPlaybackUnit     = "playback:unit"
	EventPlaybackPosition = "playback:position"
	EventPlaybackFinished = "playback:finished"
	EventPlaybackBlocked  = "playback:blocked"
	EventPlaybackError    = "playback:error"

	// 朗读准备阶段事件
	EventReadingProgress = "reading:progress"
	EventReadingReady    = "reading:ready"

	// 会话事件
	EventSessionClosed = "session:closed"
)

// Topics lists every event type the bus routes.
var Topics = []string{
	EventPlaybackState,
	EventPlaybackUnit,
	EventPlaybackPosition,
	EventPlaybackFinished,
	EventPlaybackBlocked,
	EventPlaybackError,
	EventReadingProgress,
	EventReadingReady,
	EventSessionClosed,
}

// Event is the envelope delivered to subscribers.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Data      any       `json:"data,omitempty"`
	Time      time.Time `json:"ts"`
}

// 事件数据结构
type StateEventData struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message,omitempty"`
}

type UnitEventData struct {
	Granularity string  `json:"granularity"`
	Index       int     `json:"index"`
	Time        float64 `json:"time"`
}

type PositionEventData struct {
	Time     float64 `json:"time"`
	Duration float64 `json:"duration"`
	Percent  float64 `json:"percent"`
}

type ProgressEventData struct {
	Phase   string  `json:"phase"`
	Percent float64 `json:"percent"`
	Done    int     `json:"done,omitempty"`
	Total   int     `json:"total,omitempty"`
}

type ErrorEventData struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}
