package config

import (
	"fmt"
	"time"
)

// OutboundConfig 出站连接复用器配置
type OutboundConfig struct {
	// Enabled 是否使用非阻塞复用器建立出站连接
	Enabled bool `json:"enabled"`

	// PollTimeout 单次就绪等待的最长时间
	PollTimeout Duration `json:"poll_timeout"`

	// ReadBufferSize 每次读取的缓冲区大小
	ReadBufferSize int `json:"read_buffer_size"`
}

// DefaultOutboundConfig 返回默认配置
func DefaultOutboundConfig() OutboundConfig {
	return OutboundConfig{
		Enabled:        false,
		PollTimeout:    Duration(time.Second),
		ReadBufferSize: 64 * 1024,
	}
}

// Validate 验证配置
func (c *OutboundConfig) Validate() error {
	if c.PollTimeout <= 0 {
		return fmt.Errorf("outbound: poll_timeout must be positive")
	}
	if c.ReadBufferSize < 1024 {
		return fmt.Errorf("outbound: read_buffer_size must be at least 1024")
	}
	return nil
}
