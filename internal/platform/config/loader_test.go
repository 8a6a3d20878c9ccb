package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_Load(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")
	t.Setenv("TEST_TTS_KEY", "sk-from-env")

	configContent := `
server:
  ip: "127.0.0.1"
  port: 9090
log:
  log_level: "DEBUG"
  log_dir: "/tmp/logs"
  log_file: "test.log"
tts:
  provider: OpenAITTS
  voice: nova
  max_chunk_size: 3000
  timeout: 45s
  providers:
    OpenAITTS:
      type: openai
      url: http://localhost:1234/v1
      api_key: ${TEST_TTS_KEY}
      max_text_length: 4096
cache:
  driver: sqlite
playback:
  poll_interval: 40ms
`

	if err := os.WriteFile(configFile, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	result, err := NewLoader().WithDotEnv(false).WithPath(configFile).Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	cfg := result.Config

	if result.Path != configFile {
		t.Errorf("expected path %s, got %s", configFile, result.Path)
	}
	if cfg.Server.IP != "127.0.0.1" || cfg.Server.Port != 9090 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Log.Level != "DEBUG" {
		t.Errorf("expected log level DEBUG, got %s", cfg.Log.Level)
	}
	if cfg.TTS.Voice != "nova" || cfg.TTS.MaxChunkSize != 3000 {
		t.Errorf("unexpected tts config: %+v", cfg.TTS)
	}
	if cfg.TTS.Timeout != 45*time.Second {
		t.Errorf("expected timeout 45s, got %s", cfg.TTS.Timeout)
	}
	if got := cfg.TTS.Providers["OpenAITTS"].APIKey; got != "sk-from-env" {
		t.Errorf("expected env expansion for api key, got %q", got)
	}
	if _, ok := cfg.TTS.Providers["EdgeTTS"]; !ok {
		t.Errorf("default providers should survive overlay")
	}
	if cfg.Playback.PollInterval != 40*time.Millisecond {
		t.Errorf("expected poll interval 40ms, got %s", cfg.Playback.PollInterval)
	}
	// untouched sections keep defaults
	if cfg.TTS.Retry.MaxRetries != 2 || cfg.TTS.Retry.BaseDelay != time.Second {
		t.Errorf("retry defaults lost: %+v", cfg.TTS.Retry)
	}
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	tempDir := t.TempDir()
	oldWd, _ := os.Getwd()
	if err := os.Chdir(tempDir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(oldWd)
	t.Setenv(EnvConfigPath, "")

	result, err := NewLoader().WithDotEnv(false).Load()
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if result.Path != "" {
		t.Errorf("expected empty path, got %s", result.Path)
	}
	if result.Config.TTS.MaxChunkSize != 4000 {
		t.Errorf("expected default chunk size 4000, got %d", result.Config.TTS.MaxChunkSize)
	}
}

func TestLoader_ExplicitPathMissing(t *testing.T) {
	_, err := NewLoader().WithDotEnv(false).WithPath(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	if err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
}

func TestLoader_Validate(t *testing.T) {
	loader := NewLoader()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}, wantErr: false},
		{name: "invalid server port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "zero chunk size", mutate: func(c *Config) { c.TTS.MaxChunkSize = 0 }, wantErr: true},
		{name: "chunk size above provider limit", mutate: func(c *Config) { c.TTS.MaxChunkSize = 5000 }, wantErr: true},
		{name: "unknown provider", mutate: func(c *Config) { c.TTS.Provider = "Missing" }, wantErr: true},
		{name: "speed out of range", mutate: func(c *Config) { c.TTS.Speed = 9 }, wantErr: true},
		{name: "non mp3 format", mutate: func(c *Config) { c.TTS.Format = "wav" }, wantErr: true},
		{name: "negative retries", mutate: func(c *Config) { c.TTS.Retry.MaxRetries = -1 }, wantErr: true},
		{name: "unknown cache driver", mutate: func(c *Config) { c.Cache.Driver = "etcd" }, wantErr: true},
		{name: "zero poll interval", mutate: func(c *Config) { c.Playback.PollInterval = 0 }, wantErr: true},
		{name: "unknown autoplay policy", mutate: func(c *Config) { c.Playback.Autoplay = "never" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := loader.validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
