// Package playback drives one audio element through the reading state
// machine and keeps the highlight tracks in step with its position.
package playback

import (
	stderrors "errors"
	"math"
	"sync"
	"time"

	"narrator-server-go/internal/domain/audio"
	"narrator-server-go/internal/domain/eventbus"
	"narrator-server-go/internal/domain/highlight"
	"narrator-server-go/internal/domain/timeline"
	"narrator-server-go/internal/platform/errors"
	"narrator-server-go/internal/platform/logging"
)

// DefaultPollInterval 播放中位置轮询间隔
const DefaultPollInterval = 50 * time.Millisecond

// Publisher receives controller events. Publish must not block or call back
// into the controller synchronously.
type Publisher interface {
	Publish(topic string, data any)
}

// Timing is built once the real duration of the loaded audio is known.
type Timing struct {
	Axis   timeline.WordTimeAxis
	Tracks []*highlight.Track
}

// TimingFunc derives word timing and highlight tracks from the audio duration.
type TimingFunc func(duration float64) Timing

// Options configures a Controller.
type Options struct {
	PollInterval time.Duration
	// Release 释放被替换的音频资源
	Release func(*audio.Assembled)
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State       State                         `json:"state"`
	Message     string                        `json:"message,omitempty"`
	CurrentTime float64                       `json:"current_time"`
	Duration    float64                       `json:"duration"`
	Percent     float64                       `json:"percent"`
	AudioID     string                        `json:"audio_id,omitempty"`
	Active      map[highlight.Granularity]int `json:"active,omitempty"`
}

type Controller struct {
	mu       sync.Mutex
	player   Player
	events   Publisher
	logger   *logging.Logger
	interval time.Duration
	release  func(*audio.Assembled)

	state    State
	message  string
	audio    *audio.Assembled
	duration float64
	axis     timeline.WordTimeAxis
	tracks   []*highlight.Track

	loadToken uint64
	loopToken uint64
	stopLoop  chan struct{}
	lastWord  int
}

func NewController(player Player, events Publisher, opts Options, logger *logging.Logger) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Controller{
		player:   player,
		events:   events,
		logger:   logger,
		interval: opts.PollInterval,
		release:  opts.Release,
		state:    StateIdle,
		lastWord: -1,
	}
}

// BeginLoading enters loading and returns the token that must accompany the
// matching Load or Fail. Any earlier token becomes stale. The current audio
// stays loaded until its replacement is ready.
func (c *Controller) BeginLoading() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadToken++
	if c.state == StatePlaying {
		c.player.Pause()
	}
	c.stopLoopLocked()
	c.setStateLocked(StateLoading, "")
	return c.loadToken
}

// Load installs assembled audio for token. The previous audio is released
// only after the new one has loaded. A stale token returns ErrStaleLoad and
// leaves the controller untouched; the caller still owns a. On a player
// failure both audios are released and the controller enters error.
func (c *Controller) Load(token uint64, a *audio.Assembled, build TimingFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token != c.loadToken {
		return ErrStaleLoad
	}

	previous := c.audio
	duration, err := c.player.Load(a)
	if err != nil {
		c.player.Unload()
		c.audio = nil
		c.duration = 0
		c.tracks = nil
		c.axis = timeline.WordTimeAxis{}
		c.setStateLocked(StateError, err.Error())
		c.publishLocked(eventbus.EventPlaybackError, eventbus.ErrorEventData{Message: err.Error(), Recoverable: false})
		c.releaseLocked(previous)
		c.releaseLocked(a)
		return errors.Wrap(errors.KindPlayback, "playback.load", "failed to load audio", err)
	}

	c.audio = a
	c.duration = duration
	c.axis = timeline.WordTimeAxis{}
	c.tracks = nil
	if build != nil {
		timing := build(duration)
		c.axis = timing.Axis
		c.tracks = timing.Tracks
	}
	c.lastWord = -1
	c.setStateLocked(StateReady, "")
	if previous != nil && previous != a {
		c.releaseLocked(previous)
	}
	c.logger.DebugTag("播放", "音频已就绪 id=%s 时长=%.2fs", a.ID, duration)
	return nil
}

// Fail moves a loading controller for token into error.
func (c *Controller) Fail(token uint64, err error, recoverable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token != c.loadToken {
		return ErrStaleLoad
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.stopLoopLocked()
	c.setStateLocked(StateError, msg)
	c.publishLocked(eventbus.EventPlaybackError, eventbus.ErrorEventData{Message: msg, Recoverable: recoverable})
	return nil
}

// Play starts playback. gesture marks a call triggered by a user action. An
// autoplay refusal moves the controller to blocked and is not an error.
func (c *Controller) Play(gesture bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playLocked(gesture)
}

// Resume continues from paused or blocked.
func (c *Controller) Resume(gesture bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StatePaused, StateBlocked, StatePlaying:
		return c.playLocked(gesture)
	case StateReady, StateFinished:
		return ErrInvalidTransition
	}
	return ErrNotReady
}

// RetryAfterGesture retries a blocked play with a user gesture.
func (c *Controller) RetryAfterGesture() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateBlocked {
		return ErrInvalidTransition
	}
	return c.playLocked(true)
}

func (c *Controller) playLocked(gesture bool) error {
	if !c.state.hasAudio() {
		return ErrNotReady
	}
	if c.state == StatePlaying {
		return nil
	}
	if c.state == StateFinished {
		c.player.SetCurrentTime(0)
	}

	if err := c.player.Play(gesture); err != nil {
		if stderrors.Is(err, ErrAutoplayBlocked) {
			c.logger.InfoTag("播放", "自动播放被拦截，等待用户操作")
			c.setStateLocked(StateBlocked, err.Error())
			c.publishLocked(eventbus.EventPlaybackBlocked, eventbus.StateEventData{To: string(StateBlocked), Message: err.Error()})
			return nil
		}
		c.logger.ErrorTag("播放", "播放失败: %v", err)
		c.setStateLocked(StateError, err.Error())
		c.publishLocked(eventbus.EventPlaybackError, eventbus.ErrorEventData{Message: err.Error(), Recoverable: true})
		return errors.Wrap(errors.KindPlayback, "playback.play", "native play failed", err)
	}

	c.setStateLocked(StatePlaying, "")
	c.refreshLocked(true)
	c.startLoopLocked()
	return nil
}

// Pause pauses a playing controller; other states are left alone.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StatePlaying:
		c.player.Pause()
		c.stopLoopLocked()
		c.setStateLocked(StatePaused, "")
		return nil
	case StatePaused:
		return nil
	case StateReady, StateFinished, StateBlocked:
		return ErrInvalidTransition
	}
	return ErrNotReady
}

// Stop rewinds to the start and returns to ready.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.hasAudio() {
		return ErrNotReady
	}
	c.player.Pause()
	c.stopLoopLocked()
	c.player.SetCurrentTime(0)
	for _, tr := range c.tracks {
		tr.Reset()
	}
	c.lastWord = -1
	c.setStateLocked(StateReady, "")
	return nil
}

// Seek moves to percent (0..100) of the duration.
func (c *Controller) Seek(percent float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.hasAudio() {
		return ErrNotReady
	}
	if math.IsNaN(percent) {
		percent = 0
	}
	percent = math.Max(0, math.Min(100, percent))
	return c.seekLocked(percent/100*c.duration, true)
}

// SeekTime moves to t seconds. Seeks are user actions, so playback starts
// with a gesture when not already playing.
func (c *Controller) SeekTime(t float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.hasAudio() {
		return ErrNotReady
	}
	return c.seekLocked(t, true)
}

// PlayFrom moves to t and starts playback; gesture is forwarded to the player.
func (c *Controller) PlayFrom(t float64, gesture bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.hasAudio() {
		return ErrNotReady
	}
	return c.seekLocked(t, gesture)
}

func (c *Controller) seekLocked(t float64, gesture bool) error {
	t = math.Max(0, math.Min(c.duration, t))
	c.player.SetCurrentTime(t)
	// 立即刷新高亮，不等待下一次轮询
	c.refreshLocked(true)
	if t >= c.duration {
		c.finishLocked()
		return nil
	}
	if c.state == StateFinished {
		c.setStateLocked(StatePaused, "")
	}
	if c.state != StatePlaying {
		return c.playLocked(gesture)
	}
	return nil
}

func (c *Controller) startLoopLocked() {
	c.stopLoopLocked()
	c.loopToken++
	token := c.loopToken
	stop := make(chan struct{})
	c.stopLoop = stop

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !c.tick(token) {
					return
				}
			}
		}
	}()
}

func (c *Controller) stopLoopLocked() {
	if c.stopLoop != nil {
		close(c.stopLoop)
		c.stopLoop = nil
	}
}

// tick runs one poll step and reports whether the loop should continue.
func (c *Controller) tick(token uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token != c.loopToken || c.state != StatePlaying {
		return false
	}
	c.refreshLocked(false)
	if c.player.Ended() {
		c.finishLocked()
		return false
	}
	return true
}

// finishLocked parks the player at the end of the stream.
func (c *Controller) finishLocked() {
	c.player.Pause()
	c.player.SetCurrentTime(c.duration)
	c.stopLoopLocked()
	if c.state == StateFinished {
		return
	}
	c.setStateLocked(StateFinished, "")
	c.publishLocked(eventbus.EventPlaybackFinished, eventbus.PositionEventData{
		Time:     c.duration,
		Duration: c.duration,
		Percent:  100,
	})
}

// refreshLocked recomputes the active unit of every track and publishes
// unit changes. Position events follow changes of the active word, or every
// refresh when force is set.
func (c *Controller) refreshLocked(force bool) {
	now := c.player.CurrentTime()
	for _, tr := range c.tracks {
		idx, changed := tr.Update(now)
		if !changed {
			continue
		}
		c.publishLocked(eventbus.EventPlaybackUnit, eventbus.UnitEventData{
			Granularity: string(tr.Granularity()),
			Index:       idx,
			Time:        now,
		})
	}

	word := c.axis.WordIndexAt(now)
	if !force && word == c.lastWord {
		return
	}
	c.lastWord = word
	c.publishLocked(eventbus.EventPlaybackPosition, eventbus.PositionEventData{
		Time:     now,
		Duration: c.duration,
		Percent:  c.percentLocked(now),
	})
}

func (c *Controller) percentLocked(now float64) float64 {
	if c.duration <= 0 {
		return 0
	}
	return math.Min(100, now/c.duration*100)
}

func (c *Controller) setStateLocked(next State, message string) {
	prev := c.state
	c.state = next
	c.message = message
	if prev == next && message == "" {
		return
	}
	c.publishLocked(eventbus.EventPlaybackState, eventbus.StateEventData{
		From:    string(prev),
		To:      string(next),
		Message: message,
	})
}

func (c *Controller) publishLocked(topic string, data any) {
	if c.events != nil {
		c.events.Publish(topic, data)
	}
}

func (c *Controller) releaseLocked(a *audio.Assembled) {
	if a != nil && c.release != nil {
		c.release(a)
	}
}

// Close stops polling, unloads the player and releases the current audio.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadToken++
	c.stopLoopLocked()
	c.player.Pause()
	c.player.Unload()
	c.releaseLocked(c.audio)
	c.audio = nil
	c.duration = 0
	c.tracks = nil
	c.axis = timeline.WordTimeAxis{}
	c.state = StateIdle
	c.message = ""
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Message() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.message
}

func (c *Controller) IsPaused() bool {
	return c.State() != StatePlaying
}

// CurrentTime 当前播放位置（秒），无音频时为 0
func (c *Controller) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.hasAudio() {
		return 0
	}
	return c.player.CurrentTime()
}

func (c *Controller) Duration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// Audio returns the loaded audio, or nil.
func (c *Controller) Audio() *audio.Assembled {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audio
}

// Axis returns the word time axis of the loaded audio.
func (c *Controller) Axis() timeline.WordTimeAxis {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.axis
}

// ActiveIndex returns the active unit of granularity g, or -1.
func (c *Controller) ActiveIndex(g highlight.Granularity) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tr := range c.tracks {
		if tr.Granularity() == g {
			return tr.Active()
		}
	}
	return -1
}

// Units returns the units of granularity g and whether a track exists for it.
func (c *Controller) Units(g highlight.Granularity) ([]highlight.Unit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tr := range c.tracks {
		if tr.Granularity() == g {
			return tr.Units(), true
		}
	}
	return nil, false
}

// SeekToUnit seeks to the start of unit i of granularity g.
func (c *Controller) SeekToUnit(g highlight.Granularity, i int) error {
	c.mu.Lock()
	var track *highlight.Track
	for _, tr := range c.tracks {
		if tr.Granularity() == g {
			track = tr
			break
		}
	}
	c.mu.Unlock()
	if track == nil {
		return errors.Newf(errors.KindNotFound, "playback.seek_unit", "no %s units loaded", g)
	}
	return track.Seek(c, i)
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		State:    c.state,
		Message:  c.message,
		Duration: c.duration,
	}
	if c.state.hasAudio() {
		s.CurrentTime = c.player.CurrentTime()
		s.Percent = c.percentLocked(s.CurrentTime)
	}
	if c.audio != nil {
		s.AudioID = c.audio.ID
	}
	if len(c.tracks) > 0 {
		s.Active = make(map[highlight.Granularity]int, len(c.tracks))
		for _, tr := range c.tracks {
			s.Active[tr.Granularity()] = tr.Active()
		}
	}
	return s
}
