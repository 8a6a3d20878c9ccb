package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath 指定配置文件路径的环境变量
const EnvConfigPath = "NARRATOR_CONFIG"

var defaultSearchPaths = []string{"config.yaml", ".config.yaml", "data/config.yaml"}

// Loader 读取 .env 与 YAML 配置文件，并覆盖在默认配置之上。
type Loader struct {
	useDotEnv bool
	path      string
}

// NewLoader creates a loader that searches the default config locations.
func NewLoader() *Loader {
	return &Loader{useDotEnv: true}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath pins the configuration file path.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load 按 显式路径 → $NARRATOR_CONFIG → 默认搜索路径 的顺序查找配置文件；
// 未找到文件时使用默认配置。
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// .env 缺失时直接使用系统环境变量
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	path, err := l.resolvePath()
	if err != nil {
		return nil, err
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败 %s: %w", path, err)
		}
		expanded := os.ExpandEnv(string(raw))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败 %s: %w", path, err)
		}
	}

	expandSecrets(cfg)

	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: path}, nil
}

func (l *Loader) resolvePath() (string, error) {
	if l.path != "" {
		if _, err := os.Stat(l.path); err != nil {
			return "", fmt.Errorf("配置文件不存在 %s: %w", l.path, err)
		}
		return l.path, nil
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		if _, err := os.Stat(env); err != nil {
			return "", fmt.Errorf("配置文件不存在 %s: %w", env, err)
		}
		return env, nil
	}
	for _, candidate := range defaultSearchPaths {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

// expandSecrets 展开默认配置中保留的 ${ENV} 引用
func expandSecrets(cfg *Config) {
	for name, provider := range cfg.TTS.Providers {
		provider.APIKey = os.ExpandEnv(provider.APIKey)
		provider.BaseURL = os.ExpandEnv(provider.BaseURL)
		cfg.TTS.Providers[name] = provider
	}
	cfg.Rewrite.APIKey = os.ExpandEnv(cfg.Rewrite.APIKey)
	cfg.Rewrite.BaseURL = os.ExpandEnv(cfg.Rewrite.BaseURL)
	cfg.Cache.Redis.Password = os.ExpandEnv(cfg.Cache.Redis.Password)
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.TTS.MaxChunkSize <= 0 {
		return fmt.Errorf("tts.max_chunk_size must be positive, got %d", cfg.TTS.MaxChunkSize)
	}
	if cfg.TTS.Retry.MaxRetries < 0 || cfg.TTS.Retry.MaxRetries > 10 {
		return fmt.Errorf("tts.retry.max_retries out of range: %d", cfg.TTS.Retry.MaxRetries)
	}
	if cfg.TTS.Speed != 0 && (cfg.TTS.Speed < 0.25 || cfg.TTS.Speed > 4.0) {
		return fmt.Errorf("tts.speed must be between 0.25 and 4.0, got %.2f", cfg.TTS.Speed)
	}
	if cfg.TTS.Format != "" && cfg.TTS.Format != "mp3" {
		return fmt.Errorf("tts.format must be mp3, got %q", cfg.TTS.Format)
	}
	if cfg.TTS.Provider != "" {
		provider, ok := cfg.TTS.Providers[cfg.TTS.Provider]
		if !ok {
			return fmt.Errorf("tts.provider %q not found in tts.providers", cfg.TTS.Provider)
		}
		if provider.MaxTextLength > 0 && cfg.TTS.MaxChunkSize > provider.MaxTextLength {
			return fmt.Errorf("tts.max_chunk_size %d exceeds provider %s limit %d",
				cfg.TTS.MaxChunkSize, cfg.TTS.Provider, provider.MaxTextLength)
		}
	}

	switch strings.ToLower(cfg.Cache.Driver) {
	case "", "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}
	if cfg.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must not be negative")
	}

	if cfg.Playback.PollInterval <= 0 {
		return fmt.Errorf("playback.poll_interval must be positive")
	}
	switch strings.ToLower(cfg.Playback.Autoplay) {
	case "", "allow", "gesture":
	default:
		return fmt.Errorf("unsupported playback.autoplay policy: %s", cfg.Playback.Autoplay)
	}
	return nil
}
