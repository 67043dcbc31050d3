// Package log 提供 netsync 统一日志接口
//
// 基于 Go 标准库 log/slog 封装，按组件输出结构化日志。
//
// 环境变量：
//   - NETSYNC_LOG_LEVEL: 日志级别，支持按组件配置
//     格式: 组件=级别,组件=级别,默认级别
//     示例: core/inventory=debug,core/outbound=warn,info
//   - NETSYNC_LOG_FORMAT: text 或 json
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

// Format 日志输出格式
type Format int

const (
	// FormatText 文本格式（默认）
	FormatText Format = iota
	// FormatJSON JSON 格式
	FormatJSON
)

var (
	levelsMu        sync.RWMutex
	defaultLevel    = new(slog.LevelVar)
	componentLevels = map[string]slog.Level{}
	envOnce         sync.Once
)

// SetDefault 设置默认 logger
func SetDefault(l *slog.Logger) {
	slog.SetDefault(l)
}

// New 创建新的 logger
func New(w io.Writer, format Format, level slog.Level) *slog.Logger {
	defaultLevel.Set(level)
	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug, // 过滤交给 componentHandler
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "ts"
			}
			return a
		},
	}
	var inner slog.Handler
	if format == FormatJSON {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	return slog.New(&componentHandler{inner: inner})
}

// SetOutput 设置日志输出目标
//
// 常用于将日志输出到文件：
//
//	file, _ := os.OpenFile("node.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
//	log.SetOutput(file, log.FormatText)
func SetOutput(w io.Writer, format Format) {
	SetDefault(New(w, format, defaultLevel.Level()))
}

// SetLevel 设置默认日志级别
func SetLevel(level slog.Level) {
	defaultLevel.Set(level)
}

// SetComponentLevel 设置单个组件的日志级别
func SetComponentLevel(component string, level slog.Level) {
	levelsMu.Lock()
	componentLevels[component] = level
	levelsMu.Unlock()
}

// ParseLevel 解析日志级别名称
func ParseLevel(name string) (slog.Level, bool) {
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

// ApplyLevelSpec 解析级别配置字符串
//
// 格式: component=level,component=level,defaultLevel
func ApplyLevelSpec(spec string) {
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if component, levelName, ok := strings.Cut(part, "="); ok {
			if level, ok := ParseLevel(levelName); ok {
				SetComponentLevel(strings.TrimSpace(component), level)
			}
			continue
		}
		if level, ok := ParseLevel(part); ok {
			defaultLevel.Set(level)
		}
	}
}

// levelFor 返回组件的生效级别
func levelFor(component string) slog.Level {
	levelsMu.RLock()
	defer levelsMu.RUnlock()
	if level, ok := componentLevels[component]; ok {
		return level
	}
	return defaultLevel.Level()
}

// componentHandler 根据 component 属性决定是否输出
type componentHandler struct {
	inner     slog.Handler
	component string
}

func (h *componentHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= levelFor(h.component)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	component := h.component
	for _, a := range attrs {
		if a.Key == "component" {
			component = a.Value.String()
		}
	}
	return &componentHandler{inner: h.inner.WithAttrs(attrs), component: component}
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	return &componentHandler{inner: h.inner.WithGroup(name), component: h.component}
}

// ============================================================================
//                              LazyLogger
// ============================================================================

// LazyLogger 懒加载 logger
//
// 每次日志调用时都从 slog.Default() 获取最新的 handler，
// 支持在运行时动态切换日志输出目标。
//
//	var logger = log.Logger("core/inventory")
//	logger.Info("开始请求 inventory", "candidates", n)
type LazyLogger struct {
	component string
}

// Logger 返回带组件名的 LazyLogger
func Logger(component string) *LazyLogger {
	envOnce.Do(applyEnv)
	return &LazyLogger{component: component}
}

func (l *LazyLogger) base() *slog.Logger {
	return slog.Default().With("component", l.component)
}

// Debug 输出 Debug 级别日志
func (l *LazyLogger) Debug(msg string, args ...any) {
	l.base().Debug(msg, args...)
}

// Info 输出 Info 级别日志
func (l *LazyLogger) Info(msg string, args ...any) {
	l.base().Info(msg, args...)
}

// Warn 输出 Warn 级别日志
func (l *LazyLogger) Warn(msg string, args ...any) {
	l.base().Warn(msg, args...)
}

// Error 输出 Error 级别日志
func (l *LazyLogger) Error(msg string, args ...any) {
	l.base().Error(msg, args...)
}

// With 添加额外的属性
func (l *LazyLogger) With(args ...any) *slog.Logger {
	return l.base().With(args...)
}

// Enabled 报告组件在给定级别是否输出
func (l *LazyLogger) Enabled(level slog.Level) bool {
	return level >= levelFor(l.component)
}

// ============================================================================
//                              工具函数
// ============================================================================

// Truncate 截断过长的字符串用于日志显示
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// applyEnv 从环境变量初始化默认 logger
func applyEnv() {
	defaultLevel.Set(slog.LevelInfo)
	if spec := os.Getenv("NETSYNC_LOG_LEVEL"); spec != "" {
		ApplyLevelSpec(spec)
	}
	format := FormatText
	if strings.EqualFold(os.Getenv("NETSYNC_LOG_FORMAT"), "json") {
		format = FormatJSON
	}
	SetDefault(New(os.Stderr, format, defaultLevel.Level()))
}
