package edge

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"narrator-server-go/internal/domain/audio"
	"narrator-server-go/internal/domain/tts/inter"
	"narrator-server-go/internal/platform/logging"

	"github.com/wujunwei928/edge-tts-go/edge_tts"
)

const defaultVoice = "zh-CN-XiaoxiaoNeural"

// Config Edge TTS配置
type Config struct {
	Voice          string            `json:"voice" yaml:"voice"`
	MaxTextLength  int               `json:"max_text_length" yaml:"max_text_length"`
	ReceiveTimeout int               `json:"receive_timeout" yaml:"receive_timeout"`
	Voices         []inter.VoiceInfo `json:"voices" yaml:"voices"`
}

// Provider synthesizes through the Microsoft Edge read-aloud service.
type Provider struct {
	cfg     Config
	logger  *logging.Logger
	breaker *CircuitBreaker

	// 测试时替换
	stream func(text string, opts ...edge_tts.CommunicateOption) ([]byte, error)
}

// CircuitBreaker 熔断器实现
type CircuitBreaker struct {
	maxFailures int
	failures    int
	lastFailure time.Time
	open        bool
	mutex       sync.Mutex
	retryAfter  time.Duration
}

func New(cfg Config, logger *logging.Logger) *Provider {
	if cfg.Voice == "" {
		cfg.Voice = defaultVoice
	}
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = 20
	}
	return &Provider{
		cfg:    cfg,
		logger: logger,
		breaker: &CircuitBreaker{
			maxFailures: 5,
			retryAfter:  30 * time.Second,
		},
		stream: communicate,
	}
}

func communicate(text string, opts ...edge_tts.CommunicateOption) ([]byte, error) {
	conn, err := edge_tts.NewCommunicate(text, opts...)
	if err != nil {
		return nil, err
	}
	return conn.Stream()
}

func (p *Provider) Name() string {
	return "edge"
}

func (p *Provider) Voices() []inter.VoiceInfo {
	return p.cfg.Voices
}

func (p *Provider) Synthesize(ctx context.Context, req inter.Request) (*audio.Buffer, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, &inter.StatusError{StatusCode: http.StatusBadRequest, Message: "input text is empty"}
	}
	if p.cfg.MaxTextLength > 0 && len([]rune(req.Text)) > p.cfg.MaxTextLength {
		return nil, &inter.StatusError{
			StatusCode: http.StatusBadRequest,
			Message:    fmt.Sprintf("input exceeds %d characters", p.cfg.MaxTextLength),
		}
	}
	if p.breaker.isOpen() {
		return nil, &inter.StatusError{StatusCode: http.StatusServiceUnavailable, Message: "edge tts circuit open"}
	}

	voice := req.Voice
	if voice == "" {
		voice = p.cfg.Voice
	}
	opts := []edge_tts.CommunicateOption{
		edge_tts.SetVoice(voice),
		edge_tts.SetRate(RateFromSpeed(req.Speed)),
		edge_tts.SetReceiveTimeout(p.cfg.ReceiveTimeout),
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		data, err := p.stream(req.Text, opts...)
		done <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			p.breaker.recordFailure()
			return nil, fmt.Errorf("edge tts synthesis failed: %w", res.err)
		}
		p.breaker.recordSuccess()
		p.logger.DebugTag("TTS", "Edge 合成耗时: %v voice=%s 字节=%d", time.Since(start), voice, len(res.data))
		return audio.NewBuffer(res.data, audio.MIMEMpeg), nil
	}
}

// RateFromSpeed 将倍速转换为 Edge 的百分比语速，例如 1.25 -> "+25%"
func RateFromSpeed(speed float64) string {
	if speed <= 0 {
		speed = 1
	}
	pct := int(math.Round((speed - 1) * 100))
	if pct < -100 {
		pct = -100
	}
	if pct >= 0 {
		return fmt.Sprintf("+%d%%", pct)
	}
	return fmt.Sprintf("%d%%", pct)
}

// isOpen 检查熔断器是否打开
func (cb *CircuitBreaker) isOpen() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.open && time.Since(cb.lastFailure) > cb.retryAfter {
		// 半开：放行一次请求
		cb.open = false
		cb.failures = cb.maxFailures - 1
	}
	return cb.open
}

// recordSuccess 记录成功
func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures = 0
	cb.open = false
}

// recordFailure 记录失败
func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()
	if cb.failures >= cb.maxFailures {
		cb.open = true
	}
}
