package tts

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"narrator-server-go/internal/domain/audio"
	"narrator-server-go/internal/domain/audiocache"
	"narrator-server-go/internal/domain/text"
	"narrator-server-go/internal/domain/tts/inter"
	"narrator-server-go/internal/platform/logging"
	"narrator-server-go/internal/platform/observability"

	"golang.org/x/sync/singleflight"
)

// RetryPolicy controls how transient failures are retried.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	RetryOn429 bool
}

// DefaultRetryPolicy 最多重试 2 次，退避 1s、2s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseDelay: time.Second, RetryOn429: true}
}

// Delay returns the backoff before retry number n (1-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return p.BaseDelay * time.Duration(1<<(n-1))
}

// Options for NewSynthesizer.
type Options struct {
	Retry   RetryPolicy
	Timeout time.Duration
}

// Synthesizer turns chunks into audio through the cache. For any cache key at
// most one provider call is in flight, and a successful result is cached
// before any caller sees it.
type Synthesizer struct {
	provider inter.Provider
	cache    audiocache.Store
	opts     Options
	logger   *logging.Logger

	group singleflight.Group
	calls atomic.Int64

	sleep func(ctx context.Context, d time.Duration) error
}

func NewSynthesizer(provider inter.Provider, cache audiocache.Store, opts Options, logger *logging.Logger) *Synthesizer {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Retry.MaxRetries < 0 {
		opts.Retry.MaxRetries = 0
	}
	return &Synthesizer{
		provider: provider,
		cache:    cache,
		opts:     opts,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Provider 返回底层提供者
func (s *Synthesizer) Provider() inter.Provider {
	return s.provider
}

// Calls reports how many requests reached the provider.
func (s *Synthesizer) Calls() int64 {
	return s.calls.Load()
}

// Synthesize returns audio for one chunk. Errors are always *SynthesisError.
func (s *Synthesizer) Synthesize(ctx context.Context, chunk text.TextChunk, settings Settings) (*audio.Buffer, error) {
	if err := settings.Validate(); err != nil {
		return nil, &SynthesisError{StatusCode: http.StatusBadRequest, ChunkIndex: chunk.Index, Message: err.Error()}
	}
	if chunk.Content == "" {
		return nil, &SynthesisError{StatusCode: http.StatusBadRequest, ChunkIndex: chunk.Index, Message: "empty text"}
	}

	key := audiocache.Key(chunk.Content, settings.Model, settings.Voice, settings.Speed)
	if buf, ok := s.lookup(ctx, key); ok {
		observability.RecordMetric(ctx, "tts.cache", 1, map[string]string{"result": "hit"})
		return buf, nil
	}
	observability.RecordMetric(ctx, "tts.cache", 1, map[string]string{"result": "miss"})

	// 合成与调用方的取消解耦，结果仍会写入缓存
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		if buf, ok := s.lookup(detached, key); ok {
			return buf, nil
		}
		buf, err := s.synthesizeWithRetry(detached, chunk, settings)
		if err != nil {
			return nil, err
		}
		meta := audiocache.Meta{Model: settings.Model, Voice: settings.Voice, Speed: settings.Speed, Chars: chunk.Len()}
		if err := s.cache.Put(detached, key, buf, meta); err != nil {
			s.logger.WarnTag("缓存", "写入音频缓存失败 key=%s: %v", key[:12], err)
		}
		return buf, nil
	})

	select {
	case <-ctx.Done():
		return nil, &SynthesisError{Transient: true, ChunkIndex: chunk.Index, Message: ctx.Err().Error()}
	case res := <-ch:
		if res.Err != nil {
			if se, ok := AsSynthesisError(res.Err); ok {
				return nil, se.withChunk(chunk.Index)
			}
			return nil, &SynthesisError{Transient: true, ChunkIndex: chunk.Index, Message: res.Err.Error()}
		}
		return res.Val.(*audio.Buffer), nil
	}
}

func (s *Synthesizer) lookup(ctx context.Context, key string) (*audio.Buffer, bool) {
	buf, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.WarnTag("缓存", "读取音频缓存失败: %v", err)
		return nil, false
	}
	return buf, ok
}

func (s *Synthesizer) synthesizeWithRetry(ctx context.Context, chunk text.TextChunk, settings Settings) (*audio.Buffer, error) {
	req := inter.Request{
		Text:   chunk.Content,
		Model:  settings.Model,
		Voice:  settings.Voice,
		Speed:  settings.Speed,
		Format: settings.Format,
	}

	for attempt := 1; ; attempt++ {
		buf, err := s.attempt(ctx, req)
		if err == nil {
			if attempt > 1 {
				s.logger.InfoTag("TTS", "分片 %d 第 %d 次尝试成功", chunk.Index, attempt)
			}
			return buf, nil
		}

		transient, status := s.classify(err)
		if !transient || attempt > s.opts.Retry.MaxRetries {
			s.logger.ErrorTag("TTS", "分片 %d 合成失败 (尝试 %d 次, status=%d): %v", chunk.Index, attempt, status, err)
			return nil, &SynthesisError{
				Transient:  transient,
				StatusCode: status,
				Attempts:   attempt,
				ChunkIndex: chunk.Index,
				Message:    describe(err, status),
			}
		}

		delay := s.opts.Retry.Delay(attempt)
		s.logger.WarnTag("TTS", "分片 %d 合成失败，%v 后重试 (%d/%d): %v",
			chunk.Index, delay, attempt, s.opts.Retry.MaxRetries, err)
		if err := s.sleep(ctx, delay); err != nil {
			return nil, &SynthesisError{Transient: true, Attempts: attempt, ChunkIndex: chunk.Index, Message: err.Error()}
		}
	}
}

func (s *Synthesizer) attempt(ctx context.Context, req inter.Request) (*audio.Buffer, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	_, end := observability.StartSpan(attemptCtx, "tts", "synthesize")
	s.calls.Add(1)
	observability.RecordMetric(ctx, "tts.calls", 1, map[string]string{"provider": s.provider.Name()})

	buf, err := s.provider.Synthesize(attemptCtx, req)
	if err == nil && buf.Len() == 0 {
		err = &inter.StatusError{StatusCode: http.StatusBadGateway, Message: "provider returned no audio"}
	}
	end(err)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// classify 判断错误是否可重试，并提取 HTTP 状态码
func (s *Synthesizer) classify(err error) (bool, int) {
	var statusErr *inter.StatusError
	if stderrors.As(err, &statusErr) {
		code := statusErr.StatusCode
		switch {
		case code == http.StatusTooManyRequests:
			return s.opts.Retry.RetryOn429, code
		case code >= 500:
			return true, code
		case code >= 400:
			return false, code
		}
		return true, code
	}
	// 超时、网络错误及其他未分类错误均视为瞬时故障
	return true, 0
}

func describe(err error, status int) string {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return "synthesis request timed out"
	}
	var statusErr *inter.StatusError
	if stderrors.As(err, &statusErr) && statusErr.Message != "" {
		return statusErr.Message
	}
	if status > 0 {
		return http.StatusText(status) + " (" + strconv.Itoa(status) + ")"
	}
	return "speech service unavailable"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
