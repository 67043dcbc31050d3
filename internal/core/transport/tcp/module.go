package tcp

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-netsync/config"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
)

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Transport pkgif.TransportService
	Dialer    pkgif.TransportDialer
}

// ProvideTransport 根据节点配置创建 TCP 传输
func ProvideTransport(lc fx.Lifecycle, cfg *config.Config) ModuleOutput {
	opts := DefaultOptions()
	opts.Host = cfg.Node.ListenHost
	opts.DialTimeout = cfg.Node.HandshakeTimeout.Duration()
	t := NewTransport(opts)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return t.Close()
		},
	})
	return ModuleOutput{Transport: t, Dialer: t}
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("transport/tcp",
		fx.Provide(ProvideTransport),
	)
}
