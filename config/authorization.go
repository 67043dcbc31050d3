package config

import (
	"fmt"
	"time"
)

// AuthorizationConfig 授权令牌配置
type AuthorizationConfig struct {
	// Difficulty hashcash 所需前导零比特数，0 表示不要求工作量
	Difficulty int `json:"difficulty"`

	// BanDuration 授权失败后封禁对端的时长
	BanDuration Duration `json:"ban_duration"`

	// BanListSize 黑名单最大条目数
	BanListSize int `json:"ban_list_size"`
}

// DefaultAuthorizationConfig 返回默认配置
func DefaultAuthorizationConfig() AuthorizationConfig {
	return AuthorizationConfig{
		Difficulty:  8,
		BanDuration: Duration(time.Hour),
		BanListSize: 1024,
	}
}

// Validate 验证配置
func (c *AuthorizationConfig) Validate() error {
	if c.Difficulty < 0 || c.Difficulty > 32 {
		return fmt.Errorf("authorization: difficulty %d out of range [0,32]", c.Difficulty)
	}
	if c.BanDuration <= 0 || c.BanListSize <= 0 {
		return fmt.Errorf("authorization: ban settings must be positive")
	}
	return nil
}
