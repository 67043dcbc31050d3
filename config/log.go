package config

import (
	"fmt"
	"strings"

	"github.com/dep2p/go-netsync/pkg/lib/log"
)

// LogConfig 日志配置
type LogConfig struct {
	// Level 级别配置，格式同 NETSYNC_LOG_LEVEL，例如 "core/inventory=debug,info"
	Level string `json:"level"`

	// Format text 或 json
	Format string `json:"format"`

	// File 输出文件，为空时输出到 stderr
	File string `json:"file,omitempty"`
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "text",
	}
}

// Validate 验证日志配置
func (c *LogConfig) Validate() error {
	switch strings.ToLower(c.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q", c.Format)
	}
	for _, part := range strings.Split(c.Level, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, lvl, ok := strings.Cut(part, "="); ok {
			part = lvl
		}
		if _, ok := log.ParseLevel(part); !ok {
			return fmt.Errorf("log: unknown level %q", part)
		}
	}
	return nil
}

// OutputFormat 返回日志格式
func (c *LogConfig) OutputFormat() log.Format {
	if strings.EqualFold(c.Format, "json") {
		return log.FormatJSON
	}
	return log.FormatText
}
