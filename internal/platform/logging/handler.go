package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

var (
	colorReset = "\x1b[0m"
	colorTime  = "\x1b[90m" // 时间：灰色
	colorDebug = "\x1b[36m" // DEBUG：青色
	colorInfo  = "\x1b[32m" // INFO：绿色
	colorWarn  = "\x1b[33m" // WARN：黄色
	colorError = "\x1b[31m" // ERROR：红色
)

// 模块标签与控制台颜色
var moduleColors = []struct {
	prefix string
	color  string
}{
	{"[引导]", "\x1b[96m"},
	{"[HTTP]", "\x1b[95m"},
	{"[WebSocket]", "\x1b[92m"},
	{"[TTS]", "\x1b[95m"},
	{"[LLM]", "\x1b[34m"},
	{"[缓存]", "\x1b[93m"},
	{"[播放]", "\x1b[94m"},
	{"[音频]", "\x1b[35m"},
	{"[朗读]", "\x1b[97m"},
	{"[OBSERVABILITY]", "\x1b[90m"},
}

// consoleHandler 自定义文本处理器，支持彩色输出和格式化
type consoleHandler struct {
	writer io.Writer
	level  slog.Level
	mu     *sync.Mutex
	attrs  []slog.Attr
}

func newConsoleHandler(w io.Writer, level slog.Level) *consoleHandler {
	return &consoleHandler{writer: w, level: level, mu: &sync.Mutex{}}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	timeStr := r.Time.Format("2006-01-02 15:04:05.000")

	var levelStr, levelColor string
	switch {
	case r.Level >= slog.LevelError:
		levelStr, levelColor = "错误", colorError
	case r.Level >= slog.LevelWarn:
		levelStr, levelColor = "警告", colorWarn
	case r.Level >= slog.LevelInfo:
		levelStr, levelColor = "信息", colorInfo
	default:
		levelStr, levelColor = "调试", colorDebug
	}

	msg := r.Message
	moduleColor := ""
	for _, mc := range moduleColors {
		if strings.HasPrefix(msg, mc.prefix) {
			moduleColor = mc.color
			break
		}
	}

	var b strings.Builder
	if moduleColor != "" {
		// 模块日志格式: [时间] [模块] 消息；警告及以上仍标注级别
		fmt.Fprintf(&b, "%s[%s]%s ", colorTime, timeStr, colorReset)
		if r.Level >= slog.LevelWarn {
			fmt.Fprintf(&b, "%s[%s]%s ", levelColor, levelStr, colorReset)
		}
		fmt.Fprintf(&b, "%s%s%s", moduleColor, msg, colorReset)
	} else {
		fmt.Fprintf(&b, "%s[%s]%s %s[%s]%s %s",
			colorTime, timeStr, colorReset,
			levelColor, levelStr, colorReset,
			msg)
	}

	if r.NumAttrs() > 0 || len(h.attrs) > 0 {
		b.WriteString(" {")
		for _, a := range h.attrs {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		}
		r.Attrs(func(a slog.Attr) bool {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
			return true
		})
		b.WriteString(" }")
	}
	b.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, b.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *consoleHandler) WithGroup(string) slog.Handler {
	return h
}
