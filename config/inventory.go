package config

import (
	"fmt"
	"time"

	"github.com/dep2p/go-netsync/internal/core/envelope"
	"github.com/dep2p/go-netsync/pkg/protocol"
)

// InventoryConfig 反熵同步配置
type InventoryConfig struct {
	// MaxSeedsForRequest 每轮最多请求的种子节点数
	MaxSeedsForRequest int `json:"max_seeds_for_request"`

	// MaxPeersForRequest 每轮最多请求的普通节点数
	MaxPeersForRequest int `json:"max_peers_for_request"`

	// MaxPendingRequests 同时进行中的请求上限
	MaxPendingRequests int `json:"max_pending_requests"`

	// RepeatRequestInterval 收敛后重新同步的间隔
	RepeatRequestInterval Duration `json:"repeat_request_interval"`

	// RequestTimeout 单个请求超时
	RequestTimeout Duration `json:"request_timeout"`

	// InitialDelay peer group 进入 RUNNING 后首次请求的延迟
	InitialDelay Duration `json:"initial_delay"`

	// MyPreferredFilterTypes 按优先级排列的过滤器类型
	MyPreferredFilterTypes []string `json:"my_preferred_filter_types"`

	// MaxInventorySize 响应方返回的 inventory 最大字节数
	MaxInventorySize int `json:"max_inventory_size"`
}

// DefaultInventoryConfig 返回默认同步配置
func DefaultInventoryConfig() InventoryConfig {
	return InventoryConfig{
		MaxSeedsForRequest:     2,
		MaxPeersForRequest:     4,
		MaxPendingRequests:     5,
		RepeatRequestInterval:  Duration(10 * time.Minute),
		RequestTimeout:         Duration(120 * time.Second),
		InitialDelay:           Duration(time.Second),
		MyPreferredFilterTypes: []string{"HASH_SET"},
		MaxInventorySize:       10 * 1024 * 1024,
	}
}

// Validate 验证同步配置
func (c *InventoryConfig) Validate() error {
	if c.MaxSeedsForRequest < 0 || c.MaxPeersForRequest < 0 {
		return fmt.Errorf("inventory: max seeds/peers must not be negative")
	}
	if c.MaxPendingRequests <= 0 {
		return fmt.Errorf("inventory: max_pending_requests must be positive")
	}
	if c.RepeatRequestInterval <= 0 || c.RequestTimeout <= 0 || c.InitialDelay < 0 {
		return fmt.Errorf("inventory: invalid intervals")
	}
	if len(c.MyPreferredFilterTypes) == 0 {
		return fmt.Errorf("inventory: my_preferred_filter_types cannot be empty")
	}
	for _, s := range c.MyPreferredFilterTypes {
		if _, err := protocol.ParseFilterType(s); err != nil {
			return fmt.Errorf("inventory: %w", err)
		}
	}
	if c.MaxInventorySize <= 0 {
		return fmt.Errorf("inventory: max_inventory_size must be positive")
	}
	if c.MaxInventorySize > envelope.MaxFrameSize {
		return fmt.Errorf("inventory: max_inventory_size %d exceeds frame limit %d", c.MaxInventorySize, envelope.MaxFrameSize)
	}
	return nil
}

// FilterTypes 返回解析后的过滤器类型，保持配置顺序
func (c *InventoryConfig) FilterTypes() []protocol.FilterType {
	out := make([]protocol.FilterType, 0, len(c.MyPreferredFilterTypes))
	for _, s := range c.MyPreferredFilterTypes {
		if t, err := protocol.ParseFilterType(s); err == nil {
			out = append(out, t)
		}
	}
	return out
}
