package playback

import (
	stderrors "errors"
	"sync"
	"time"

	"narrator-server-go/internal/domain/audio"
)

// ErrAutoplayBlocked is returned by Player.Play when the platform refuses to
// start audio without a user gesture.
var ErrAutoplayBlocked = stderrors.New("autoplay blocked: user gesture required")

// Player is the single audio element a controller drives.
type Player interface {
	// Load 加载音频并返回元数据中的时长（秒）
	Load(a *audio.Assembled) (float64, error)
	Play(gesture bool) error
	Pause()
	CurrentTime() float64
	SetCurrentTime(t float64)
	Ended() bool
	Unload()
}

// AutoplayPolicy mirrors browser autoplay rules.
type AutoplayPolicy string

const (
	AutoplayAllow   AutoplayPolicy = "allow"
	AutoplayGesture AutoplayPolicy = "gesture"
)

// ClockPlayer derives the media position from a clock. Under AutoplayGesture
// the first successful play needs a gesture; after that activation is sticky.
type ClockPlayer struct {
	mu        sync.Mutex
	now       func() time.Time
	policy    AutoplayPolicy
	activated bool

	loaded    bool
	duration  float64
	playing   bool
	offset    float64
	startedAt time.Time
}

func NewClockPlayer(policy AutoplayPolicy, now func() time.Time) *ClockPlayer {
	if now == nil {
		now = time.Now
	}
	if policy == "" {
		policy = AutoplayGesture
	}
	return &ClockPlayer{now: now, policy: policy}
}

func (p *ClockPlayer) Load(a *audio.Assembled) (float64, error) {
	if a == nil || a.Released() {
		return 0, stderrors.New("audio resource unavailable")
	}
	if a.Duration <= 0 {
		return 0, stderrors.New("audio has no decodable duration")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = true
	p.duration = a.Duration
	p.playing = false
	p.offset = 0
	return a.Duration, nil
}

func (p *ClockPlayer) Play(gesture bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded {
		return stderrors.New("no audio loaded")
	}
	if gesture {
		p.activated = true
	}
	if p.policy == AutoplayGesture && !p.activated {
		return ErrAutoplayBlocked
	}
	if p.playing {
		return nil
	}
	p.playing = true
	p.startedAt = p.now()
	return nil
}

func (p *ClockPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return
	}
	p.offset = p.positionLocked()
	p.playing = false
}

func (p *ClockPlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *ClockPlayer) SetCurrentTime(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t < 0 {
		t = 0
	}
	if t > p.duration {
		t = p.duration
	}
	p.offset = t
	if p.playing {
		p.startedAt = p.now()
	}
}

func (p *ClockPlayer) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded && p.positionLocked() >= p.duration
}

func (p *ClockPlayer) Unload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = false
	p.playing = false
	p.duration = 0
	p.offset = 0
}

func (p *ClockPlayer) positionLocked() float64 {
	if !p.playing {
		return p.offset
	}
	pos := p.offset + p.now().Sub(p.startedAt).Seconds()
	if pos > p.duration {
		pos = p.duration
	}
	return pos
}
