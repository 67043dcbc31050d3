package netsync

import (
	"fmt"
	"io"
	"os"

	"github.com/dep2p/go-netsync/config"
	"github.com/dep2p/go-netsync/pkg/lib/log"
)

// applyLogging 按配置设置全局日志，返回需要在停止时关闭的文件
func applyLogging(cfg config.LogConfig) (io.Closer, error) {
	var (
		out    io.Writer = os.Stderr
		closer io.Closer
	)
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}
	log.SetOutput(out, cfg.OutputFormat())
	log.ApplyLevelSpec(cfg.Level)
	return closer, nil
}
