package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:                 "0.0.0.0",
			Port:               8080,
			SessionIdleTimeout: 30 * time.Minute,
			MaxSessions:        256,
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Web: WebConfig{
			Enabled:   true,
			StaticDir: "./web",
			Origins:   []string{"*"},
		},
		TTS: TTSConfig{
			Provider:     "OpenAITTS",
			Model:        "tts-1",
			Voice:        "alloy",
			Speed:        1.0,
			Format:       "mp3",
			MaxChunkSize: 4000,
			Concurrency:  3,
			Timeout:      60 * time.Second,
			Retry: RetryConfig{
				MaxRetries: 2,
				BaseDelay:  time.Second,
				RetryOn429: true,
			},
			Providers: map[string]TTSProviderConfig{
				"OpenAITTS": {
					Type:          "openai",
					BaseURL:       "https://api.openai.com/v1",
					APIKey:        "${OPENAI_API_KEY}",
					MaxTextLength: 4096,
					SupportedVoices: []VoiceInfo{
						{Name: "alloy", DisplayName: "Alloy", Sex: "中性", Description: "平衡自然，适合大多数文章朗读"},
						{Name: "echo", DisplayName: "Echo", Sex: "男", Description: "沉稳清晰，适合新闻与评论"},
						{Name: "fable", DisplayName: "Fable", Sex: "男", Description: "带叙事感，适合故事与散文"},
						{Name: "onyx", DisplayName: "Onyx", Sex: "男", Description: "低沉有力，适合长篇深度内容"},
						{Name: "nova", DisplayName: "Nova", Sex: "女", Description: "明亮活泼，适合轻松内容"},
						{Name: "shimmer", DisplayName: "Shimmer", Sex: "女", Description: "柔和温暖，适合睡前阅读"},
					},
				},
				"EdgeTTS": {
					Type:          "edge",
					OutputDir:     "data/tmp/",
					MaxTextLength: 4000,
					SupportedVoices: []VoiceInfo{
						{Name: "zh-CN-XiaoxiaoNeural", DisplayName: "晓晓", Sex: "女", Description: "商务知性风格，音色成熟清晰，适合新闻播报、专业内容朗读"},
						{Name: "zh-CN-YunxiNeural", DisplayName: "云希", Sex: "男", Description: "年轻活力风格，语速轻快"},
						{Name: "en-US-AriaNeural", DisplayName: "Aria", Sex: "女", Description: "English female voice"},
						{Name: "en-US-GuyNeural", DisplayName: "Guy", Sex: "男", Description: "English male voice"},
					},
				},
			},
		},
		Rewrite: RewriteConfig{
			Enabled:     false,
			Type:        "openai",
			ModelName:   "gpt-4o-mini",
			BaseURL:     "https://api.openai.com/v1",
			APIKey:      "${OPENAI_API_KEY}",
			Temperature: 0.3,
			MaxTokens:   8192,
			MaxInput:    60000,
			Timeout:     90 * time.Second,
		},
		Cache: CacheConfig{
			Driver:     "memory",
			MaxEntries: 0,
			Redis: CacheRedisStore{
				Prefix: "narrator:audio:",
			},
			SQLite: CacheSQLiteStore{
				DSN: "data/narrator.db",
			},
		},
		Playback: PlaybackConfig{
			PollInterval: 50 * time.Millisecond,
			Autoplay:     "gesture",
			AutoStart:    true,
		},
	}
}
