package netsync

import (
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-netsync/config"
)

// Option 修改构建参数
type Option func(*settings) error

type settings struct {
	cfg       *config.Config
	clock     clock.Clock
	fxOptions []fx.Option
}

// WithClock 替换时钟，测试中传入 clock.NewMock()
func WithClock(c clock.Clock) Option {
	return func(s *settings) error {
		if c == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		s.clock = c
		return nil
	}
}

// WithListenPort 设置监听端口，0 表示随机
func WithListenPort(port int) Option {
	return func(s *settings) error {
		s.cfg.Node.ListenPort = port
		return nil
	}
}

// WithSeeds 追加种子地址，每项可以是逗号分隔的列表
func WithSeeds(seeds ...string) Option {
	return func(s *settings) error {
		for _, item := range seeds {
			for _, addr := range strings.Split(item, ",") {
				if addr = strings.TrimSpace(addr); addr != "" {
					s.cfg.PeerGroup.SeedAddresses = append(s.cfg.PeerGroup.SeedAddresses, addr)
				}
			}
		}
		return nil
	}
}

// WithDataDir 设置数据目录并关闭内存模式
func WithDataDir(dir string) Option {
	return func(s *settings) error {
		s.cfg.Storage.DataDir = dir
		s.cfg.Storage.InMemory = false
		return nil
	}
}

// WithInMemoryStorage 数据与密钥都不落盘
func WithInMemoryStorage() Option {
	return func(s *settings) error {
		s.cfg.Storage.InMemory = true
		return nil
	}
}

// WithMetricsAddr 在 addr 暴露 /metrics，为空时只收集
func WithMetricsAddr(addr string) Option {
	return func(s *settings) error {
		s.cfg.Metrics.Enabled = true
		s.cfg.Metrics.ListenAddr = addr
		return nil
	}
}

// WithOutbound 启用或关闭非阻塞出站复用器
func WithOutbound(enabled bool) Option {
	return func(s *settings) error {
		s.cfg.Outbound.Enabled = enabled
		return nil
	}
}

// WithLogLevel 设置日志级别，格式同 config.LogConfig.Level
func WithLogLevel(spec string) Option {
	return func(s *settings) error {
		s.cfg.Log.Level = spec
		return nil
	}
}

// WithFxOptions 追加用户 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(s *settings) error {
		s.fxOptions = append(s.fxOptions, opts...)
		return nil
	}
}
