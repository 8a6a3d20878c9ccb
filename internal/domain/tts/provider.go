package tts

import (
	"fmt"
	"strings"

	"narrator-server-go/internal/domain/tts/infrastructure/adapters/edge"
	"narrator-server-go/internal/domain/tts/infrastructure/adapters/openai"
	"narrator-server-go/internal/domain/tts/inter"
	"narrator-server-go/internal/platform/config"
	"narrator-server-go/internal/platform/logging"
)

// Provider type identifiers accepted in tts.providers.<name>.type.
const (
	ProviderOpenAI = "openai"
	ProviderEdge   = "edge"
)

// NewProvider builds the provider selected by cfg.Provider.
func NewProvider(cfg config.TTSConfig, logger *logging.Logger) (inter.Provider, error) {
	pc, ok := cfg.Providers[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("tts provider %q not configured", cfg.Provider)
	}
	voices := convertVoices(pc.SupportedVoices)

	switch strings.ToLower(pc.Type) {
	case ProviderOpenAI, "":
		return openai.New(openai.Config{
			APIKey:        pc.APIKey,
			BaseURL:       pc.BaseURL,
			MaxTextLength: pc.MaxTextLength,
			Voices:        voices,
		}, logger)
	case ProviderEdge:
		return edge.New(edge.Config{
			Voice:         cfg.Voice,
			MaxTextLength: pc.MaxTextLength,
			Voices:        voices,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported tts provider type: %s", pc.Type)
	}
}

// DefaultSettings 根据配置构造默认合成参数
func DefaultSettings(cfg config.TTSConfig) Settings {
	return Settings{
		Model:  cfg.Model,
		Voice:  cfg.Voice,
		Speed:  cfg.Speed,
		Format: cfg.Format,
	}
}

func convertVoices(in []config.VoiceInfo) []inter.VoiceInfo {
	out := make([]inter.VoiceInfo, 0, len(in))
	for _, v := range in {
		out = append(out, inter.VoiceInfo{
			Name:        v.Name,
			DisplayName: v.DisplayName,
			Sex:         v.Sex,
			Description: v.Description,
		})
	}
	return out
}
