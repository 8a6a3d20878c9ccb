package reading

import (
	"context"
	"sync"
	"time"

	"narrator-server-go/internal/domain/audio"
	"narrator-server-go/internal/domain/playback"
	"narrator-server-go/internal/domain/rewrite"
	"narrator-server-go/internal/domain/text"
	"narrator-server-go/internal/domain/tts"
	"narrator-server-go/internal/domain/tts/inter"
	"narrator-server-go/internal/platform/config"
	"narrator-server-go/internal/platform/errors"
	"narrator-server-go/internal/platform/logging"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New(errors.KindNotFound, "reading.session", "session not found")
	ErrSessionClosed   = errors.New(errors.KindNotFound, "reading.session", "session closed")
	ErrTooManySessions = errors.New(errors.KindDomain, "reading.session", "too many active sessions")
)

// Dependencies are shared by every session of a Manager.
type Dependencies struct {
	Synthesizer *tts.Synthesizer
	Assembler   *audio.Assembler
	Rewriter    rewrite.Rewriter
	Defaults    tts.Settings
	// NewPlayer 为每个会话创建播放器，为空时使用 ClockPlayer
	NewPlayer func() playback.Player
}

// Options tune sessions and the manager.
type Options struct {
	MaxChunkSize   int
	Concurrency    int
	PollInterval   time.Duration
	AutoplayPolicy playback.AutoplayPolicy
	AutoStart      bool
	IdleTimeout    time.Duration
	MaxSessions    int
}

// OptionsFromConfig 从全局配置提取会话参数
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxChunkSize:   cfg.TTS.MaxChunkSize,
		Concurrency:    cfg.TTS.Concurrency,
		PollInterval:   cfg.Playback.PollInterval,
		AutoplayPolicy: playback.AutoplayPolicy(cfg.Playback.Autoplay),
		AutoStart:      cfg.Playback.AutoStart,
		IdleTimeout:    cfg.Server.SessionIdleTimeout,
		MaxSessions:    cfg.Server.MaxSessions,
	}
}

func (o Options) normalize() Options {
	if o.MaxChunkSize <= 0 {
		o.MaxChunkSize = text.DefaultMaxChunkSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = playback.DefaultPollInterval
	}
	if o.AutoplayPolicy == "" {
		o.AutoplayPolicy = playback.AutoplayGesture
	}
	return o
}

// Manager creates, finds and reaps reading sessions.
type Manager struct {
	deps   Dependencies
	opts   Options
	logger *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Engine

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewManager(deps Dependencies, opts Options, logger *logging.Logger) *Manager {
	return &Manager{
		deps:     deps,
		opts:     opts.normalize(),
		logger:   logger,
		sessions: make(map[string]*Engine),
		stop:     make(chan struct{}),
	}
}

// Voices lists the voices of the configured provider.
func (m *Manager) Voices() []inter.VoiceInfo {
	if m.deps.Synthesizer == nil {
		return nil
	}
	return m.deps.Synthesizer.Provider().Voices()
}

// Defaults 默认合成参数
func (m *Manager) Defaults() tts.Settings {
	return m.deps.Defaults
}

func (m *Manager) Create() (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opts.MaxSessions > 0 && len(m.sessions) >= m.opts.MaxSessions {
		return nil, ErrTooManySessions
	}
	id := uuid.NewString()
	e := newEngine(id, m.deps, m.opts, m.logger)
	m.sessions[id] = e
	m.logger.InfoTag("朗读", "创建会话 session=%s 当前会话数=%d", id, len(m.sessions))
	return e, nil
}

func (m *Manager) Get(id string) (*Engine, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

// Remove closes and forgets session id.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	e.Close()
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Range calls fn for every session until fn returns false.
func (m *Manager) Range(fn func(*Engine) bool) {
	m.mu.RLock()
	list := make([]*Engine, 0, len(m.sessions))
	for _, e := range m.sessions {
		list = append(list, e)
	}
	m.mu.RUnlock()
	for _, e := range list {
		if !fn(e) {
			return
		}
	}
}

// StartReaper closes sessions idle for longer than the idle timeout until ctx
// ends or the manager is closed.
func (m *Manager) StartReaper(ctx context.Context) {
	if m.opts.IdleTimeout <= 0 {
		return
	}
	interval := m.opts.IdleTimeout / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case now := <-ticker.C:
				if n := m.reapIdle(now); n > 0 {
					m.logger.InfoTag("朗读", "清理空闲会话 %d 个", n)
				}
			}
		}
	}()
}

// reapIdle closes sessions idle since before now minus the idle timeout.
func (m *Manager) reapIdle(now time.Time) int {
	cutoff := now.Add(-m.opts.IdleTimeout)
	var idle []*Engine
	m.mu.Lock()
	for id, e := range m.sessions {
		if e.State() == playback.StatePlaying || e.State() == playback.StateLoading {
			continue
		}
		if e.LastActive().Before(cutoff) {
			idle = append(idle, e)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, e := range idle {
		e.Close()
	}
	return len(idle)
}

// Close stops the reaper and closes every session.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Engine)
	m.mu.Unlock()

	for _, e := range sessions {
		e.Close()
	}
	released := 0
	if m.deps.Assembler != nil {
		released = m.deps.Assembler.Library().ReleaseAll()
	}
	m.logger.InfoTag("朗读", "已关闭 %d 个会话，释放 %d 个音频资源", len(sessions), released)
}
