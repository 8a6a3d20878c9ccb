package openai

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"narrator-server-go/internal/domain/audio"
	"narrator-server-go/internal/domain/tts/inter"
	"narrator-server-go/internal/platform/logging"

	"github.com/sashabaranov/go-openai"
)

// Config OpenAI 兼容语音接口配置
type Config struct {
	APIKey        string            `json:"api_key" yaml:"api_key"`
	BaseURL       string            `json:"base_url" yaml:"base_url"`
	MaxTextLength int               `json:"max_text_length" yaml:"max_text_length"`
	Voices        []inter.VoiceInfo `json:"voices" yaml:"voices"`
	HTTPClient    *http.Client      `json:"-" yaml:"-"`
}

// Provider calls an OpenAI-compatible /audio/speech endpoint.
type Provider struct {
	client *openai.Client
	cfg    Config
	logger *logging.Logger
}

func New(cfg Config, logger *logging.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}
	return &Provider{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (p *Provider) Name() string {
	return "openai"
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

	format := req.Format
	if format == "" {
		format = string(openai.SpeechResponseFormatMp3)
	}

	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(req.Model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(req.Voice),
		ResponseFormat: openai.SpeechResponseFormat(format),
		Speed:          req.Speed,
	})
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech response: %w", err)
	}
	mimeType := resp.Header().Get("Content-Type")
	if mimeType == "" || !strings.HasPrefix(mimeType, "audio/") {
		mimeType = audio.MIMEForFormat(format)
	}

	p.logger.DebugTag("TTS", "OpenAI 合成完成 voice=%s 字符=%d 字节=%d", req.Voice, len([]rune(req.Text)), len(data))
	return audio.NewBuffer(data, mimeType), nil
}

// classifyError 将 go-openai 的错误转换为带状态码的错误
func classifyError(err error) error {
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		return &inter.StatusError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if stderrors.As(err, &reqErr) {
		msg := strings.TrimSpace(string(reqErr.Body))
		if msg == "" {
			msg = http.StatusText(reqErr.HTTPStatusCode)
		}
		return &inter.StatusError{StatusCode: reqErr.HTTPStatusCode, Message: msg, Err: err}
	}
	return err
}
