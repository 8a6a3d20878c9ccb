package config

import (
	"time"
)

type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Web      WebConfig      `yaml:"web" mapstructure:"web"`
	TTS      TTSConfig      `yaml:"tts" mapstructure:"tts"`
	Rewrite  RewriteConfig  `yaml:"rewrite" mapstructure:"rewrite"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Playback PlaybackConfig `yaml:"playback" mapstructure:"playback"`
}

type ServerConfig struct {
	IP                 string        `yaml:"ip" mapstructure:"ip"`
	Port               int           `yaml:"port" mapstructure:"port"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout" mapstructure:"session_idle_timeout"`
	MaxSessions        int           `yaml:"max_sessions" mapstructure:"max_sessions"`
}

type LogConfig struct {
	Level string `yaml:"log_level" mapstructure:"log_level"`
	Dir   string `yaml:"log_dir" mapstructure:"log_dir"`
	File  string `yaml:"log_file" mapstructure:"log_file"`
}

type WebConfig struct {
	Enabled   bool     `yaml:"enabled" mapstructure:"enabled"`
	StaticDir string   `yaml:"static_dir" mapstructure:"static_dir"`
	Origins   []string `yaml:"allow_origins" mapstructure:"allow_origins"`
}

// TTSConfig 语音合成配置；Provider 选择 Providers 中的一项。
type TTSConfig struct {
	Provider     string                       `yaml:"provider" mapstructure:"provider"`
	Model        string                       `yaml:"model" mapstructure:"model"`
	Voice        string                       `yaml:"voice" mapstructure:"voice"`
	Speed        float64                      `yaml:"speed" mapstructure:"speed"`
	Format       string                       `yaml:"format" mapstructure:"format"`
	MaxChunkSize int                          `yaml:"max_chunk_size" mapstructure:"max_chunk_size"`
	Concurrency  int                          `yaml:"concurrency" mapstructure:"concurrency"`
	Timeout      time.Duration                `yaml:"timeout" mapstructure:"timeout"`
	Retry        RetryConfig                  `yaml:"retry" mapstructure:"retry"`
	Providers    map[string]TTSProviderConfig `yaml:"providers" mapstructure:"providers"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	RetryOn429 bool          `yaml:"retry_on_429" mapstructure:"retry_on_429"`
}

type TTSProviderConfig struct {
	Type            string      `yaml:"type" mapstructure:"type"`
	BaseURL         string      `yaml:"url" mapstructure:"url"`
	APIKey          string      `yaml:"api_key" mapstructure:"api_key"`
	OutputDir       string      `yaml:"output_dir" mapstructure:"output_dir"`
	MaxTextLength   int         `yaml:"max_text_length" mapstructure:"max_text_length"`
	SupportedVoices []VoiceInfo `yaml:"supported_voices" mapstructure:"supported_voices"`
}

type VoiceInfo struct {
	Name        string `yaml:"name" mapstructure:"name" json:"name"`
	DisplayName string `yaml:"display_name" mapstructure:"display_name" json:"display_name"`
	Sex         string `yaml:"sex" mapstructure:"sex" json:"sex"`
	Description string `yaml:"description" mapstructure:"description" json:"description"`
}

// RewriteConfig 朗读前的 LLM 改写配置
type RewriteConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	Type        string        `yaml:"type" mapstructure:"type"`
	ModelName   string        `yaml:"model_name" mapstructure:"model_name"`
	BaseURL     string        `yaml:"url" mapstructure:"url"`
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	Temperature float32       `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxInput    int           `yaml:"max_input_chars" mapstructure:"max_input_chars"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// CacheConfig 音频缓存配置
type CacheConfig struct {
	Driver     string           `yaml:"driver" mapstructure:"driver"`
	MaxEntries int              `yaml:"max_entries" mapstructure:"max_entries"`
	TTL        time.Duration    `yaml:"ttl" mapstructure:"ttl"`
	Redis      CacheRedisStore  `yaml:"redis,omitempty" mapstructure:"redis"`
	SQLite     CacheSQLiteStore `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
}

type CacheRedisStore struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db,omitempty" mapstructure:"db"`
	Prefix   string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

type CacheSQLiteStore struct {
	DSN string `yaml:"dsn,omitempty" mapstructure:"dsn"`
}

// PlaybackConfig 播放控制配置
type PlaybackConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	// Autoplay: "allow" 或 "gesture"（首次播放需要用户手势）
	Autoplay string `yaml:"autoplay" mapstructure:"autoplay"`
	// AutoStart 准备完成后自动开始播放
	AutoStart bool `yaml:"auto_start" mapstructure:"auto_start"`
}
