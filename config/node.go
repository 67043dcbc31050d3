package config

import (
	"fmt"
	"time"

	"github.com/dep2p/go-netsync/pkg/types"
)

// NodeConfig 节点配置
type NodeConfig struct {
	// TransportType 传输类型：CLEAR / TOR / I2P
	TransportType string `json:"transport_type"`

	// ListenHost 监听地址
	ListenHost string `json:"listen_host"`

	// ListenPort 监听端口，0 表示随机端口
	ListenPort int `json:"listen_port"`

	// MaxConnections 单个节点的最大连接数
	MaxConnections int `json:"max_connections"`

	// HandshakeTimeout 握手超时
	HandshakeTimeout Duration `json:"handshake_timeout"`

	// SendTimeout 单次发送的写超时
	SendTimeout Duration `json:"send_timeout"`

	// ShutdownTimeout NodesById 整体关闭时限
	ShutdownTimeout Duration `json:"shutdown_timeout"`

	// IOPoolSize 短任务共享的 I/O 池大小（握手、发送、响应），读循环不占用
	IOPoolSize int `json:"io_pool_size"`

	// Features 本节点声明支持的特性
	Features []string `json:"features"`
}

// MinIOPoolHeadroom I/O 池在 MaxConnections 之外至少保留的容量
//
// 入站握手按连接占用池容量，其余短任务（发送、响应、应用数据）使用剩余部分。
const MinIOPoolHeadroom = 16

// DefaultNodeConfig 返回默认节点配置
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		TransportType:    "CLEAR",
		ListenHost:       "127.0.0.1",
		ListenPort:       0,
		MaxConnections:   50,
		HandshakeTimeout: Duration(30 * time.Second),
		SendTimeout:      Duration(60 * time.Second),
		ShutdownTimeout:  Duration(10 * time.Second),
		IOPoolSize:       256,
		Features:         []string{"INVENTORY_HASH_SET", "AUTHORIZATION_HASH_CASH"},
	}
}

// Validate 验证节点配置
func (c *NodeConfig) Validate() error {
	if _, err := types.ParseTransportType(c.TransportType); err != nil {
		return fmt.Errorf("node: %w", err)
	}
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return fmt.Errorf("node: listen_port %d out of range", c.ListenPort)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("node: max_connections must be positive")
	}
	if c.HandshakeTimeout <= 0 || c.SendTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("node: timeouts must be positive")
	}
	if c.IOPoolSize < c.MaxConnections+MinIOPoolHeadroom {
		return fmt.Errorf("node: io_pool_size %d must be at least max_connections + %d",
			c.IOPoolSize, MinIOPoolHeadroom)
	}
	for _, f := range c.Features {
		if _, err := types.ParseFeature(f); err != nil {
			return fmt.Errorf("node: %w", err)
		}
	}
	return nil
}

// ParsedFeatures 返回解析后的特性列表
func (c *NodeConfig) ParsedFeatures() []types.Feature {
	out := make([]types.Feature, 0, len(c.Features))
	for _, f := range c.Features {
		if feature, err := types.ParseFeature(f); err == nil {
			out = append(out, feature)
		}
	}
	return out
}
