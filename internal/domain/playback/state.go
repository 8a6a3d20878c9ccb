package playback

import (
	"narrator-server-go/internal/platform/errors"
)

// State 播放控制器状态
type State string

const (
	StateIdle     State = "idle"
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StatePlaying  State = "playing"
	StatePaused   State = "paused"
	StateFinished State = "finished"
	StateBlocked  State = "blocked"
	StateError    State = "error"
)

// hasAudio reports whether a loaded audio resource backs the state.
func (s State) hasAudio() bool {
	switch s {
	case StateReady, StatePlaying, StatePaused, StateFinished, StateBlocked:
		return true
	}
	return false
}

var (
	// ErrNotReady 尚未加载可播放的音频
	ErrNotReady = errors.New(errors.KindPlayback, "playback", "audio not ready")
	// ErrInvalidTransition is returned when an operation is not valid in the current state.
	ErrInvalidTransition = errors.New(errors.KindPlayback, "playback", "invalid state transition")
	// ErrStaleLoad 加载令牌已过期，说明已有更新的 prepare 请求
	ErrStaleLoad = errors.New(errors.KindPlayback, "playback", "stale load discarded")
)
