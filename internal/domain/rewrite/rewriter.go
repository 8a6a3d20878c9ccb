// Package rewrite prepares article text for listening with an LLM before it is
// synthesized. Rewriting is optional; callers fall back to the original text
// whenever it fails.
package rewrite

import (
	"context"
	"strings"
	"time"

	"narrator-server-go/internal/platform/config"
	"narrator-server-go/internal/platform/errors"
	"narrator-server-go/internal/platform/logging"
)

const (
	TypeOpenAI = "openai"

	DefaultMaxInput = 12000
	DefaultTimeout  = 30 * time.Second
)

// Result 改写结果
type Result struct {
	Text   string `json:"text"`
	Title  string `json:"title,omitempty"`
	Byline string `json:"byline,omitempty"`
}

// Rewriter turns raw article text into narration-ready text.
type Rewriter interface {
	Rewrite(ctx context.Context, text string) (*Result, error)
}

// New builds the rewriter described by cfg. A disabled configuration yields
// a nil Rewriter and no error.
func New(cfg config.RewriteConfig, logger *logging.Logger) (Rewriter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Type) {
	case "", TypeOpenAI:
		r, err := NewOpenAI(Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.ModelName,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			MaxInput:    cfg.MaxInput,
			Timeout:     cfg.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, errors.Newf(errors.KindConfig, "rewrite.new", "unsupported rewrite type %q", cfg.Type)
}

// Apply runs r over text and returns the rewritten text, or text unchanged
// when r is nil or fails.
func Apply(ctx context.Context, r Rewriter, text string, logger *logging.Logger) (*Result, bool) {
	if r == nil {
		return &Result{Text: text}, false
	}
	res, err := r.Rewrite(ctx, text)
	if err != nil || res == nil || strings.TrimSpace(res.Text) == "" {
		logger.WarnTag("LLM", "改写失败，使用原文: %v", err)
		return &Result{Text: text}, false
	}
	return res, true
}

// truncate cuts s to at most max runes.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
