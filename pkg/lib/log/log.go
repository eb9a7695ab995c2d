// Package log 提供 gamenet 统一日志接口
//
// 基于 Go 标准库 log/slog 封装。各组件通过 Logger(component) 获取懒加载
// logger，每条日志带 component 属性。
//
// 环境变量:
//   - GAMENET_LOG_LEVEL: 日志级别，格式 "组件=级别,组件=级别,默认级别"
//     示例: core/rpc=debug,core/nat=warn,info
//   - GAMENET_LOG_FORMAT: text 或 json
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// 日志级别常量（从 slog 导出，方便使用）
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var (
	mu          sync.RWMutex
	output      io.Writer = os.Stderr
	levels      = map[string]slog.Level{}
	baseLevel   = slog.LevelInfo
	jsonFormat  bool
	baseHandler slog.Handler
)

// SetOutput 设置日志输出目标
//
// 常用于将日志输出到文件：
//
//	file, _ := os.OpenFile("gamenet.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
//	log.SetOutput(file)
func SetOutput(w io.Writer) {
	mu.Lock()
	output = w
	rebuild()
	mu.Unlock()
}

// SetLevel 设置默认日志级别
func SetLevel(level slog.Level) {
	mu.Lock()
	baseLevel = level
	rebuild()
	mu.Unlock()
}

// SetComponentLevel 单独设置某个组件的日志级别
func SetComponentLevel(component string, level slog.Level) {
	mu.Lock()
	levels[component] = level
	mu.Unlock()
}

// Discard 返回丢弃所有输出的 logger（测试用）
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// rebuild 重新创建底层 handler，调用方持有 mu
func rebuild() {
	opts := &slog.HandlerOptions{
		// 组件级别在 LazyLogger.enabled 中过滤
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "ts"
			}
			return a
		},
	}
	if jsonFormat {
		baseHandler = slog.NewJSONHandler(output, opts)
	} else {
		baseHandler = slog.NewTextHandler(output, opts)
	}
}

func levelFor(component string) slog.Level {
	if l, ok := levels[component]; ok {
		return l
	}
	return baseLevel
}

// ============================================================================
//                              LazyLogger
// ============================================================================

// LazyLogger 懒加载 logger
//
// 每次日志调用时都读取当前 handler，支持运行时切换输出目标和级别。
//
//	var logger = log.Logger("core/rpc")
//	logger.Warn("调用未注册的过程", "name", name)
type LazyLogger struct {
	component string
}

// Logger 返回带组件名的 LazyLogger
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

func (l *LazyLogger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	mu.RLock()
	h := baseHandler
	threshold := levelFor(l.component)
	mu.RUnlock()
	if level < threshold {
		return
	}
	slog.New(h).With("component", l.component).Log(ctx, level, msg, args...)
}

// Debug 输出 Debug 级别日志
func (l *LazyLogger) Debug(msg string, args ...any) {
	l.log(context.Background(), slog.LevelDebug, msg, args...)
}

// Info 输出 Info 级别日志
func (l *LazyLogger) Info(msg string, args ...any) {
	l.log(context.Background(), slog.LevelInfo, msg, args...)
}

// Warn 输出 Warn 级别日志
func (l *LazyLogger) Warn(msg string, args ...any) {
	l.log(context.Background(), slog.LevelWarn, msg, args...)
}

// Error 输出 Error 级别日志
func (l *LazyLogger) Error(msg string, args ...any) {
	l.log(context.Background(), slog.LevelError, msg, args...)
}

// DebugContext 带 context 的 Debug 日志
func (l *LazyLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// With 返回带额外属性的 slog.Logger
func (l *LazyLogger) With(args ...any) *slog.Logger {
	mu.RLock()
	h := baseHandler
	mu.RUnlock()
	return slog.New(h).With("component", l.component).With(args...)
}

// ============================================================================
//                              工具函数
// ============================================================================

// TruncateID 安全截取 ID 用于日志显示
func TruncateID(id string, maxLen int) string {
	if len(id) <= maxLen {
		return id
	}
	return id[:maxLen]
}

// parseLevelConfig 解析 "组件=级别,默认级别" 格式
func parseLevelConfig(s string) {
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if k, v, ok := strings.Cut(part, "="); ok {
			if level, ok := parseLevel(v); ok {
				levels[strings.TrimSpace(k)] = level
			}
			continue
		}
		if level, ok := parseLevel(part); ok {
			baseLevel = level
		}
	}
}

func parseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

func init() {
	if v := os.Getenv("GAMENET_LOG_LEVEL"); v != "" {
		parseLevelConfig(v)
	}
	jsonFormat = strings.EqualFold(os.Getenv("GAMENET_LOG_FORMAT"), "json")
	rebuild()
}
