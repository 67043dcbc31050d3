package config

import (
	"fmt"
	"time"

	"github.com/dep2p/go-netsync/pkg/types"
)

// PeerGroupConfig peer group 配置
type PeerGroupConfig struct {
	// SeedAddresses 种子节点地址（host:port）
	SeedAddresses []string `json:"seed_addresses"`

	// TargetNumConnectedPeers 目标连接数
	TargetNumConnectedPeers int `json:"target_num_connected_peers"`

	// MaintenanceInterval 补充连接的检查间隔
	MaintenanceInterval Duration `json:"maintenance_interval"`
}

// DefaultPeerGroupConfig 返回默认配置
func DefaultPeerGroupConfig() PeerGroupConfig {
	return PeerGroupConfig{
		TargetNumConnectedPeers: 8,
		MaintenanceInterval:     Duration(30 * time.Second),
	}
}

// Validate 验证配置
func (c *PeerGroupConfig) Validate() error {
	if c.TargetNumConnectedPeers <= 0 {
		return fmt.Errorf("peer_group: target_num_connected_peers must be positive")
	}
	if c.MaintenanceInterval <= 0 {
		return fmt.Errorf("peer_group: maintenance_interval must be positive")
	}
	for _, s := range c.SeedAddresses {
		if _, err := types.ParseAddress(s); err != nil {
			return fmt.Errorf("peer_group: seed %q: %w", s, err)
		}
	}
	return nil
}

// Seeds 返回解析后的种子地址
func (c *PeerGroupConfig) Seeds() []types.Address {
	out := make([]types.Address, 0, len(c.SeedAddresses))
	for _, s := range c.SeedAddresses {
		if addr, err := types.ParseAddress(s); err == nil {
			out = append(out, addr)
		}
	}
	return out
}
