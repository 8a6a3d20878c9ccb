package webapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"narrator-server-go/internal/domain/audiocache"
	"narrator-server-go/internal/domain/reading"
	"narrator-server-go/internal/domain/tts"
	"narrator-server-go/internal/platform/config"
	ptesting "narrator-server-go/internal/platform/testing"
)

type fixedStreams struct{ clients, readings int }

func (f fixedStreams) Counts() (int, int) { return f.clients, f.readings }

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := ptesting.SetupTestConfig(t)
	logger := ptesting.SetupTestLogger(t)
	cache, err := audiocache.New(audiocache.Config{Driver: audiocache.DriverMemory}, audiocache.Dependencies{})
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	manager := reading.NewManager(reading.Dependencies{
		Defaults: tts.DefaultSettings(cfg.TTS),
	}, reading.Options{}, logger)
	t.Cleanup(manager.Close)

	svc, err := NewService(cfg, manager, cache, fixedStreams{clients: 3, readings: 1}, logger)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	engine := gin.New()
	if err := svc.Register(context.Background(), engine.Group("/api")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return engine
}

func get(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return w.Code, body.Data
}

func TestHealth(t *testing.T) {
	h := newTestEngine(t)
	code, data := get(t, h, "/api/health")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if data["status"] != "ok" || data["sessions"] != float64(0) || data["streams"] != float64(3) {
		t.Fatalf("unexpected health %v", data)
	}
	if _, ok := data["cache"].(map[string]any); !ok {
		t.Fatalf("expected cache stats, got %v", data["cache"])
	}
	host, ok := data["host"].(map[string]any)
	if !ok {
		t.Fatalf("expected host stats, got %v", data["host"])
	}
	if total, _ := host["memory_total"].(float64); total <= 0 {
		t.Fatalf("expected memory total, got %v", host)
	}
	if n, _ := host["goroutines"].(float64); n < 1 {
		t.Fatalf("expected goroutine count, got %v", host)
	}
}

func TestCollectHostStats(t *testing.T) {
	stats, err := collectHostStats(context.Background())
	if err != nil {
		t.Fatalf("collectHostStats: %v", err)
	}
	if stats.MemoryTotal == 0 || stats.MemoryUsed > stats.MemoryTotal {
		t.Fatalf("unexpected memory stats %+v", stats)
	}
	if stats.MemoryPercent < 0 || stats.MemoryPercent > 100 || stats.CPUPercent < 0 {
		t.Fatalf("percent out of range %+v", stats)
	}
}

func TestConfigHidesSecrets(t *testing.T) {
	h := newTestEngine(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Data PublicConfig `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Voice != "alloy" || body.Data.Autoplay != "gesture" {
		t.Fatalf("unexpected config %+v", body.Data)
	}
	if strings.Contains(w.Body.String(), "api_key") || strings.Contains(w.Body.String(), "OPENAI_API_KEY") {
		t.Fatalf("config response leaked credentials: %s", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestEngine(t)
	code, data := get(t, h, "/api/metrics")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if _, ok := data["enabled"]; !ok {
		t.Fatalf("missing enabled flag: %v", data)
	}
}

func TestNewServiceRequiresManager(t *testing.T) {
	if _, err := NewService(config.DefaultConfig(), nil, nil, nil, nil); err == nil {
		t.Fatal("expected error without manager")
	}
}
