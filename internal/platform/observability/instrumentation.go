package observability

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Enabled reports whether observability has been toggled on.
func Enabled() bool {
	_, cfg := currentLogger()
	return cfg.Enabled
}

// StartSpan records a lightweight span lifecycle around an operation.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	logger, _ := currentLogger()
	start := time.Now()

	if logger != nil {
		logger.LogAttrs(ctx, slog.LevelDebug, "obs span start",
			slog.String("component", component),
			slog.String("operation", operation),
		)
	}

	return ctx, func(err error) {
		elapsed := time.Since(start)
		status := "ok"
		if err != nil {
			status = "error"
		}
		registry.add(component+"."+operation+".spans", map[string]string{"status": status}, 1)
		registry.add(component+"."+operation+".duration_ms", nil, float64(elapsed.Milliseconds()))

		if logger == nil {
			return
		}
		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelError
		}

		attrs := []slog.Attr{
			slog.String("component", component),
			slog.String("operation", operation),
			slog.Duration("duration", elapsed),
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}

		logger.LogAttrs(ctx, level, "obs span end", attrs...)
	}
}

// RecordMetric accumulates a datapoint in the in-process registry and emits it via the configured logger.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	registry.add(name, labels, value)

	logger, _ := currentLogger()
	if logger == nil {
		return
	}

	attrs := []slog.Attr{
		slog.String("metric", name),
		slog.Float64("value", value),
	}
	for k, v := range labels {
		attrs = append(attrs, slog.String(k, v))
	}

	logger.LogAttrs(ctx, slog.LevelDebug, "obs metric", attrs...)
}

// seriesKey 生成 name{k=v,...} 形式的序列名；忽略高基数标签。
func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		if _, skip := highCardinality[k]; skip {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return name
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

var highCardinality = map[string]struct{}{
	"session_id": {},
	"client_id":  {},
	"cache_key":  {},
}
