package bootstrap

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	platformerrors "narrator-server-go/internal/platform/errors"
	platformlogging "narrator-server-go/internal/platform/logging"
)

// writeTestConfig points the loader at a temporary config file.
func writeTestConfig(t *testing.T, cacheSection string) string {
	t.Helper()
	dir := t.TempDir()
	content := `server:
  ip: 127.0.0.1
  port: 18080
log:
  log_level: info
  log_dir: ` + filepath.Join(dir, "logs") + `
  log_file: smoke.log
web:
  enabled: false
` + cacheSection
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("NARRATOR_CONFIG", path)
	t.Setenv("OPENAI_API_KEY", "test-key")
	return dir
}

func runInitGraph(t *testing.T) *appState {
	t.Helper()
	state := &appState{}
	if err := executeInitSteps(context.Background(), InitGraph(), state); err != nil {
		t.Fatalf("executeInitSteps failed: %v", err)
	}
	t.Cleanup(func() {
		state.close()
		_ = state.logger.Close()
	})
	return state
}

func TestInitGraphOrder(t *testing.T) {
	steps := InitGraph()
	want := []string{
		"config:load",
		"logging:init-provider",
		"observability:setup-hooks",
		"storage:init-database",
		"cache:init-store",
		"tts:init-provider",
		"rewrite:init-provider",
		"reading:init-manager",
	}
	if len(steps) != len(want) {
		t.Fatalf("unexpected step count: got %d want %d", len(steps), len(want))
	}
	seen := map[string]bool{}
	for i, step := range steps {
		if step.ID != want[i] {
			t.Fatalf("step %d mismatch: got %s want %s", i, step.ID, want[i])
		}
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				t.Fatalf("step %s depends on later step %s", step.ID, dep)
			}
		}
		seen[step.ID] = true
	}
}

func TestExecuteInitGraph(t *testing.T) {
	writeTestConfig(t, "cache:\n  driver: memory\n")
	state := runInitGraph(t)

	if state.config == nil || state.logger == nil {
		t.Fatal("config/logger not initialised")
	}
	if state.observabilityShutdown == nil {
		t.Fatal("observability shutdown hook not set")
	}
	if state.db != nil {
		t.Fatal("memory cache should not open the database")
	}
	if state.cache == nil || state.synthesizer == nil || state.manager == nil {
		t.Fatal("reading stack not initialised")
	}
	if state.rewriter != nil {
		t.Fatal("rewrite is disabled by default")
	}
}

func TestExecuteInitGraphSQLiteCache(t *testing.T) {
	dir := writeTestConfig(t, "cache:\n  driver: sqlite\n  sqlite:\n    dsn: "+filepath.Join(t.TempDir(), "cache.db")+"\n")
	state := runInitGraph(t)

	if state.db == nil {
		t.Fatal("sqlite cache requires the database")
	}
	stats, err := state.cache.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats["type"] != "sqlite" {
		t.Fatalf("unexpected cache stats %v", stats)
	}
	if _, err := os.Stat(filepath.Join(dir, "logs", "smoke.log")); err != nil {
		t.Fatalf("log file not created: %v", err)
	}
}

func TestExecuteInitStepsMissingDependency(t *testing.T) {
	steps := []initStep{{
		ID:        "reading:init-manager",
		DependsOn: []string{"tts:init-provider"},
		Execute:   func(context.Context, *appState) error { return nil },
	}}
	err := executeInitSteps(context.Background(), steps, &appState{})
	if !platformerrors.IsKind(err, platformerrors.KindBootstrap) {
		t.Fatalf("expected bootstrap error, got %v", err)
	}
}

func TestExecuteInitStepsWrapsPlainErrors(t *testing.T) {
	steps := []initStep{{
		ID:      "cache:init-store",
		Kind:    platformerrors.KindCache,
		Execute: func(context.Context, *appState) error { return os.ErrNotExist },
	}}
	err := executeInitSteps(context.Background(), steps, &appState{})
	if !platformerrors.IsKind(err, platformerrors.KindCache) {
		t.Fatalf("expected cache error, got %v", err)
	}
}

func TestBuildRouter(t *testing.T) {
	writeTestConfig(t, "cache:\n  driver: memory\n")
	state := runInitGraph(t)

	router, wsServer, err := buildRouter(context.Background(), state)
	if err != nil {
		t.Fatalf("buildRouter: %v", err)
	}
	defer wsServer.Stop()
	gin.SetMode(gin.TestMode)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/health", http.StatusOK},
		{http.MethodGet, "/api/voices", http.StatusOK},
		{http.MethodPost, "/api/sessions", http.StatusCreated},
		{http.MethodGet, "/api/sessions/unknown", http.StatusNotFound},
		{http.MethodGet, "/api/nothing-here", http.StatusNotFound},
		{http.MethodGet, "/ws/sessions/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
		if w.Code != tt.want {
			t.Fatalf("%s %s = %d, want %d (%s)", tt.method, tt.path, w.Code, tt.want, w.Body.String())
		}
	}
}

func TestLogBootstrapGraphOutput(t *testing.T) {
	tmp := t.TempDir()
	var console bytes.Buffer
	logger, err := platformlogging.New(platformlogging.Config{
		Level:    "info",
		Dir:      tmp,
		Filename: "graph.log",
		Console:  &console,
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logBootstrapGraph(InitGraph(), logger)
	_ = logger.Close()

	data, err := os.ReadFile(filepath.Join(tmp, "graph.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "初始化依赖关系概览") {
		t.Fatalf("graph header missing in log output: %s", content)
	}
	for _, step := range InitGraph() {
		if !strings.Contains(content, step.ID) {
			t.Fatalf("expected graph output to contain %q, got: %s", step.ID, content)
		}
	}
}
