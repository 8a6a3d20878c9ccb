package rewrite

import (
	"context"
	"net/http"
	"strings"
	"time"

	"narrator-server-go/internal/platform/errors"
	"narrator-server-go/internal/platform/logging"
	"narrator-server-go/internal/platform/observability"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai"
)

const systemPrompt = `You prepare web articles to be read aloud.
Rewrite the user's text so it sounds natural when spoken: drop navigation, captions,
link lists and footnote markers, expand abbreviations a listener would stumble on, and
keep the author's wording otherwise. Do not summarise.
Reply with a JSON object: {"text": string, "title": string, "byline": string}.
Leave title or byline empty when the text has none.`

// Config OpenAI 兼容聊天接口配置
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	MaxInput    int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// OpenAI rewrites text through an OpenAI-compatible chat completion endpoint
// in JSON mode.
type OpenAI struct {
	client *openai.Client
	cfg    Config
	logger *logging.Logger
}

func NewOpenAI(cfg Config, logger *logging.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New(errors.KindConfig, "rewrite.openai", "api_key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxInput <= 0 {
		cfg.MaxInput = DefaultMaxInput
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return nil, errors.New(errors.KindConfig, "rewrite.openai", "temperature must be between 0 and 2")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (o *OpenAI) Rewrite(ctx context.Context, text string) (res *Result, err error) {
	input := truncate(strings.TrimSpace(text), o.cfg.MaxInput)
	if input == "" {
		return nil, errors.New(errors.KindDomain, "rewrite.openai", "input text is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	ctx, end := observability.StartSpan(ctx, "rewrite", "chat")
	defer func() { end(err) }()

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: input},
		},
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindTransport, "rewrite.openai", "chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New(errors.KindTransport, "rewrite.openai", "chat completion returned no choices")
	}

	res, err = parseResult(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	o.logger.DebugTag("LLM", "改写完成 输入=%d字 输出=%d字 耗时=%v",
		len([]rune(input)), len([]rune(res.Text)), time.Since(start))
	return res, nil
}

// parseResult decodes the model's JSON reply, tolerating a surrounding
// markdown code fence.
func parseResult(content string) (*Result, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}

	var res Result
	if err := sonic.UnmarshalString(content, &res); err != nil {
		return nil, errors.Wrap(errors.KindDomain, "rewrite.parse", "invalid rewrite reply", err)
	}
	res.Text = strings.TrimSpace(res.Text)
	res.Title = strings.TrimSpace(res.Title)
	res.Byline = strings.TrimSpace(res.Byline)
	if res.Text == "" {
		return nil, errors.New(errors.KindDomain, "rewrite.parse", "rewrite reply has no text")
	}
	return &res, nil
}
