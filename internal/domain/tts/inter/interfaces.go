package inter

import (
	"context"
	"fmt"

	"narrator-server-go/internal/domain/audio"
)

// Provider TTS提供者接口
type Provider interface {
	// Name 返回提供者标识
	Name() string

	// Synthesize 合成一段文本，返回完整音频
	Synthesize(ctx context.Context, req Request) (*audio.Buffer, error)

	// Voices 返回可用音色
	Voices() []VoiceInfo
}

// Request 单次合成请求
type Request struct {
	Text   string  `json:"text"`
	Model  string  `json:"model"`
	Voice  string  `json:"voice"`
	Speed  float64 `json:"speed"`
	Format string  `json:"format"`
}

// VoiceInfo 语音信息
type VoiceInfo struct {
	Name        string `json:"name"`         // 语音名称
	Language    string `json:"language"`     // 语言
	DisplayName string `json:"display_name"` // 显示名称
	Sex         string `json:"sex"`          // 性别
	Description string `json:"description"`  // 描述
}

// StatusError carries the HTTP status a provider answered with.
type StatusError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *StatusError) Error() string {
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}
