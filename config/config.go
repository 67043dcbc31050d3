// Package config 提供统一的配置管理
//
// 主 Config 结构体嵌入所有子配置，每个子配置在独立文件中定义，
// 支持从 JSON 加载和保存。
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.Node.ListenPort = 9999
//	cfg.PeerGroup.SeedAddresses = []string{"127.0.0.1:8000"}
//
//	// 从文件加载
//	cfg, err := config.LoadFile("netsync.json")
package config

import "fmt"

// Config netsync 的完整配置
//
//   - Node: 节点与连接
//   - Inventory: 反熵同步
//   - PeerGroup: 种子与目标连接数
//   - Outbound: 非阻塞出站连接复用器
//   - Storage: 数据目录
//   - Authorization: 授权令牌
//   - Metrics: Prometheus 指标
//   - Log: 日志
type Config struct {
	Node          NodeConfig          `json:"node"`
	Inventory     InventoryConfig     `json:"inventory"`
	PeerGroup     PeerGroupConfig     `json:"peer_group"`
	Outbound      OutboundConfig      `json:"outbound"`
	Storage       StorageConfig       `json:"storage"`
	Authorization AuthorizationConfig `json:"authorization"`
	Metrics       MetricsConfig       `json:"metrics"`
	Log           LogConfig           `json:"log"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Node:          DefaultNodeConfig(),
		Inventory:     DefaultInventoryConfig(),
		PeerGroup:     DefaultPeerGroupConfig(),
		Outbound:      DefaultOutboundConfig(),
		Storage:       DefaultStorageConfig(),
		Authorization: DefaultAuthorizationConfig(),
		Metrics:       DefaultMetricsConfig(),
		Log:           DefaultLogConfig(),
	}
}

// Validate 验证所有子配置
func (c *Config) Validate() error {
	validators := []interface{ Validate() error }{
		&c.Node,
		&c.Inventory,
		&c.PeerGroup,
		&c.Outbound,
		&c.Storage,
		&c.Authorization,
		&c.Metrics,
		&c.Log,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	if c.Inventory.MaxPendingRequests > c.Node.MaxConnections {
		return fmt.Errorf("inventory: max_pending_requests (%d) exceeds node max_connections (%d)",
			c.Inventory.MaxPendingRequests, c.Node.MaxConnections)
	}
	return nil
}
