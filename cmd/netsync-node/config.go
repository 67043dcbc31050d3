package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/dep2p/go-netsync/config"
)

// 环境变量
//
//   - NETSYNC_LISTEN_PORT: 监听端口
//   - NETSYNC_SEEDS: 种子地址（逗号分隔）
//   - NETSYNC_DATA_DIR: 数据目录
//   - NETSYNC_METRICS_ADDR: /metrics 监听地址
//   - NETSYNC_OUTBOUND: 启用出站复用器
//
// 日志级别由 NETSYNC_LOG_LEVEL 在日志包初始化时读取。
const (
	envListenPort  = "NETSYNC_LISTEN_PORT"
	envSeeds       = "NETSYNC_SEEDS"
	envDataDir     = "NETSYNC_DATA_DIR"
	envMetricsAddr = "NETSYNC_METRICS_ADDR"
	envOutbound    = "NETSYNC_OUTBOUND"
)

// applyEnvOverrides 用环境变量覆盖配置
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv(envListenPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Node.ListenPort = port
		}
	}
	if v := os.Getenv(envSeeds); v != "" {
		cfg.PeerGroup.SeedAddresses = splitAndTrim(v, ",")
	}
	if v := os.Getenv(envDataDir); v != "" {
		cfg.Storage.DataDir = v
		cfg.Storage.InMemory = false
	}
	if v := os.Getenv(envMetricsAddr); v != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddr = v
	}
	if v := os.Getenv(envOutbound); v != "" {
		cfg.Outbound.Enabled = parseBool(v)
	}
}

// parseBool 解析布尔值字符串
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// splitAndTrim 分割字符串并去除空白
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}
