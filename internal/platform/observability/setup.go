package observability

import (
	"context"
	"log/slog"
	"sync"
)

// Config captures observability toggles.
type Config struct {
	Enabled bool
}

// ShutdownFunc allows callers to tear down any observability exporters.
type ShutdownFunc func(context.Context) error

var (
	loggerMu             sync.RWMutex
	instrumentationLog   *slog.Logger
	instrumentationState Config
	registry             = newMetricRegistry()
)

func currentLogger() (*slog.Logger, Config) {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if !instrumentationState.Enabled {
		return nil, instrumentationState
	}
	return instrumentationLog, instrumentationState
}

// Setup wires the slog-backed instrumentation. Metrics are always aggregated in-process;
// span and metric log lines are only emitted when cfg.Enabled is set.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (ShutdownFunc, error) {
	loggerMu.Lock()
	instrumentationLog = logger
	instrumentationState = cfg
	loggerMu.Unlock()

	if logger != nil {
		if cfg.Enabled {
			logger.InfoContext(ctx, "[OBSERVABILITY][SETUP] span logging enabled")
		} else {
			logger.InfoContext(ctx, "[OBSERVABILITY][SETUP] span logging disabled")
		}
	}
	return func(context.Context) error {
		loggerMu.Lock()
		instrumentationLog = nil
		instrumentationState = Config{}
		loggerMu.Unlock()
		return nil
	}, nil
}

type metricRegistry struct {
	mu     sync.Mutex
	series map[string]float64
}

func newMetricRegistry() *metricRegistry {
	return &metricRegistry{series: make(map[string]float64)}
}

func (r *metricRegistry) add(name string, labels map[string]string, value float64) {
	key := seriesKey(name, labels)
	r.mu.Lock()
	r.series[key] += value
	r.mu.Unlock()
}

// Snapshot returns a copy of the accumulated metric series.
func Snapshot() map[string]float64 {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	out := make(map[string]float64, len(registry.series))
	for k, v := range registry.series {
		out[k] = v
	}
	return out
}

// Reset clears the accumulated series.
func Reset() {
	registry.mu.Lock()
	registry.series = make(map[string]float64)
	registry.mu.Unlock()
}
