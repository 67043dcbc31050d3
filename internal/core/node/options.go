package node

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-netsync/config"
	"github.com/dep2p/go-netsync/internal/core/executor"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/types"
)

// Options 节点参数，创建后不再修改
type Options struct {
	TransportType    types.TransportType
	ListenPort       int
	MaxConnections   int
	HandshakeTimeout time.Duration
	SendTimeout      time.Duration
	Features         []types.Feature

	// ShutdownTimeout NodesById 关闭所有节点的整体时限
	ShutdownTimeout time.Duration
}

// DefaultOptions 返回默认参数
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultNodeConfig())
}

// OptionsFromConfig 由节点配置生成参数，cfg 需已通过 Validate
func OptionsFromConfig(cfg config.NodeConfig) Options {
	transport, err := types.ParseTransportType(cfg.TransportType)
	if err != nil {
		transport = types.TransportClear
	}
	return Options{
		TransportType:    transport,
		ListenPort:       cfg.ListenPort,
		MaxConnections:   cfg.MaxConnections,
		HandshakeTimeout: cfg.HandshakeTimeout.Duration(),
		SendTimeout:      cfg.SendTimeout.Duration(),
		Features:         cfg.ParsedFeatures(),
		ShutdownTimeout:  cfg.ShutdownTimeout.Duration(),
	}
}

// Dependencies 构造节点所需的外部服务
//
// 本层只把它们当作能力接口使用，不拥有其状态。
type Dependencies struct {
	Transport     pkgif.TransportService
	Authorization pkgif.AuthorizationService
	KeyBundle     pkgif.KeyBundleService
	// BanList 可选
	BanList pkgif.BanList

	Pool       *executor.Pool
	Dispatcher *executor.Dispatcher
	Clock      clock.Clock

	// EventBus 可选，用于发布连接事件
	EventBus pkgif.EventBus
}

func (d *Dependencies) validate() error {
	switch {
	case d.Transport == nil:
		return fmt.Errorf("%w: transport", ErrInvalidDependencies)
	case d.Authorization == nil:
		return fmt.Errorf("%w: authorization", ErrInvalidDependencies)
	case d.Pool == nil || d.Dispatcher == nil:
		return fmt.Errorf("%w: executors", ErrInvalidDependencies)
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	return nil
}
