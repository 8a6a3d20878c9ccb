// Package testing holds helpers shared by package tests.
package testing

import (
	"io"
	"testing"
	"time"

	"narrator-server-go/internal/platform/config"
	"narrator-server-go/internal/platform/logging"
)

// SetupTestConfig returns the default configuration tuned for tests: logs go
// to a temp dir, the cache stays in memory and the poll loop never fires on
// its own.
func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.IP = "127.0.0.1"
	cfg.Log.Level = "DEBUG"
	cfg.Log.Dir = t.TempDir()
	cfg.Log.File = "test.log"
	cfg.Web.Enabled = false
	cfg.Cache.Driver = "memory"
	cfg.Playback.PollInterval = time.Hour
	cfg.TTS.Retry.MaxRetries = 0

	return cfg
}

// SetupTestLogger 创建写入临时目录、不输出到控制台的日志器，测试结束时关闭
func SetupTestLogger(t *testing.T) *logging.Logger {
	t.Helper()

	cfg := SetupTestConfig(t)
	logger, err := logging.New(logging.Config{
		Level:    cfg.Log.Level,
		Dir:      cfg.Log.Dir,
		Filename: cfg.Log.File,
		Console:  io.Discard,
	})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })

	return logger
}

func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

func AssertEqual(t *testing.T, expected, actual interface{}) {
	t.Helper()
	if expected != actual {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
}
