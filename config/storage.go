package config

import (
	"fmt"
	"path/filepath"
)

// StorageConfig 存储配置
//
// 数据目录结构：
//
//	${DataDir}/
//	├── netsync.db/    # BadgerDB
//	└── node.key       # ed25519 私钥 (PEM)
type StorageConfig struct {
	// DataDir 数据目录
	DataDir string `json:"data_dir"`

	// InMemory 使用内存模式（测试用）
	InMemory bool `json:"in_memory"`

	// SeenCacheSize 已处理数据哈希缓存大小
	SeenCacheSize int `json:"seen_cache_size"`
}

// DefaultStorageConfig 返回默认存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		DataDir:       "./data",
		SeenCacheSize: 10000,
	}
}

// Validate 验证存储配置
func (c *StorageConfig) Validate() error {
	if !c.InMemory && c.DataDir == "" {
		return fmt.Errorf("storage: data_dir cannot be empty")
	}
	if c.SeenCacheSize <= 0 {
		return fmt.Errorf("storage: seen_cache_size must be positive")
	}
	return nil
}

// DBPath 返回 BadgerDB 路径
func (c *StorageConfig) DBPath() string {
	return filepath.Join(c.DataDir, "netsync.db")
}

// KeyPath 返回节点私钥文件路径
func (c *StorageConfig) KeyPath() string {
	return filepath.Join(c.DataDir, "node.key")
}
