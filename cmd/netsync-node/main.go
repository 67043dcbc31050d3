// Package main 提供 netsync 节点命令行入口
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dep2p/go-netsync"
	"github.com/dep2p/go-netsync/config"
	"github.com/dep2p/go-netsync/pkg/lib/log"
)

var logger = log.Logger("netsync/cmd")

// 命令行参数覆盖配置文件与环境变量
var (
	configFile  = flag.String("config", "", "配置文件路径（JSON）")
	port        = flag.Int("port", 0, "监听端口（0 = 随机端口）")
	seeds       = flag.String("seed", "", "种子地址，逗号分隔，例如 1.2.3.4:8000,5.6.7.8:8000")
	dataDir     = flag.String("data-dir", "", "数据目录（默认: ./data）")
	inMemory    = flag.Bool("in-memory", false, "不落盘，退出即丢失数据与身份")
	logLevel    = flag.String("log-level", "", "日志级别，例如 info 或 core/inventory=debug,info")
	metricsAddr = flag.String("metrics", "", "Prometheus /metrics 监听地址，例如 127.0.0.1:9100")
	outbound    = flag.Bool("outbound", false, "使用非阻塞出站复用器")
	showVersion = flag.Bool("version", false, "显示版本信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()
	if *showVersion {
		fmt.Println(netsync.VersionInfo())
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	n, err := netsync.New(cfg, flagOptions()...)
	if err != nil {
		return fmt.Errorf("创建节点失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = n.Start(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	logger.Info("启动 netsync 节点", "version", netsync.Version, "commit", netsync.GitCommit)
	printNodeInfo(n)

	waitForSignal()
	fmt.Println("\n正在关闭节点...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), n.Config().Node.ShutdownTimeout.Duration())
	defer stopCancel()
	return n.Stop(stopCtx)
}

// loadConfig 按 配置文件 → 环境变量 的顺序加载
func loadConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadFile(*configFile); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// flagOptions 只转换显式设置的参数
func flagOptions() []netsync.Option {
	var opts []netsync.Option
	if isFlagSet("port") {
		opts = append(opts, netsync.WithListenPort(*port))
	}
	if isFlagSet("seed") {
		opts = append(opts, netsync.WithSeeds(*seeds))
	}
	if isFlagSet("data-dir") && *dataDir != "" {
		opts = append(opts, netsync.WithDataDir(*dataDir))
	}
	if isFlagSet("in-memory") && *inMemory {
		opts = append(opts, netsync.WithInMemoryStorage())
	}
	if isFlagSet("log-level") {
		opts = append(opts, netsync.WithLogLevel(*logLevel))
	}
	if isFlagSet("metrics") {
		opts = append(opts, netsync.WithMetricsAddr(*metricsAddr))
	}
	if isFlagSet("outbound") {
		opts = append(opts, netsync.WithOutbound(*outbound))
	}
	return opts
}

// isFlagSet 检查命令行参数是否被显式设置
func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func waitForSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
}

func printNodeInfo(n *netsync.Netsync) {
	cfg := n.Config()
	fmt.Println("═══════════════════════════════════════════")
	fmt.Printf("  %s\n", netsync.VersionInfo())
	fmt.Printf("  地址:     %s\n", n.Addr())
	fmt.Printf("  种子:     %d\n", len(cfg.PeerGroup.SeedAddresses))
	if cfg.Storage.InMemory {
		fmt.Println("  存储:     内存")
	} else {
		fmt.Printf("  存储:     %s\n", cfg.Storage.DBPath())
	}
	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddr != "" {
		fmt.Printf("  指标:     http://%s/metrics\n", cfg.Metrics.ListenAddr)
	}
	fmt.Println("═══════════════════════════════════════════")
	fmt.Println("节点已启动，按 Ctrl+C 退出")
}
