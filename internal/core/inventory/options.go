package inventory

import (
	"time"

	"github.com/dep2p/go-netsync/config"
	"github.com/dep2p/go-netsync/pkg/protocol"
)

// 重试间隔
const (
	// PeerGroupNotReadyRetry peer group 未进入 RUNNING 时的重试间隔
	PeerGroupNotReadyRetry = 5 * time.Second
	// NoCandidatesRetry 没有可请求对端时的重试间隔
	NoCandidatesRetry = 10 * time.Second
	// IncompleteRetry 仍有数据缺失时的快速重试间隔
	IncompleteRetry = time.Second
	// DefaultRequestTimeout 单个请求的默认超时
	DefaultRequestTimeout = 120 * time.Second
)

// Options 同步参数，创建后不再修改
type Options struct {
	MaxSeedsForRequest    int
	MaxPeersForRequest    int
	MaxPendingRequests    int
	RepeatRequestInterval time.Duration
	RequestTimeout        time.Duration
	InitialDelay          time.Duration
	// PreferredFilterTypes 按优先级排列
	PreferredFilterTypes []protocol.FilterType
	// MaxInventorySize 响应方 inventory 上限（字节）
	MaxInventorySize int
}

// DefaultOptions 返回默认参数
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultInventoryConfig())
}

// OptionsFromConfig 由配置生成参数
func OptionsFromConfig(cfg config.InventoryConfig) Options {
	opts := Options{
		MaxSeedsForRequest:    cfg.MaxSeedsForRequest,
		MaxPeersForRequest:    cfg.MaxPeersForRequest,
		MaxPendingRequests:    cfg.MaxPendingRequests,
		RepeatRequestInterval: cfg.RepeatRequestInterval.Duration(),
		RequestTimeout:        cfg.RequestTimeout.Duration(),
		InitialDelay:          cfg.InitialDelay.Duration(),
		PreferredFilterTypes:  cfg.FilterTypes(),
		MaxInventorySize:      cfg.MaxInventorySize,
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	return opts
}
