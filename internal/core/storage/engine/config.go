package engine

import (
	"os"
	"path/filepath"
	"time"
)

// Config 存储引擎配置
type Config struct {
	// Path 数据目录，InMemory 为 true 时忽略
	Path string

	// InMemory 不落盘，进程退出即丢失
	InMemory bool

	// SyncWrites 每次写入都 fsync
	SyncWrites bool

	// BlockCacheSize 块缓存大小（字节）
	BlockCacheSize int64

	// Compression ZSTD 压缩级别，0 禁用
	Compression int

	// GCInterval 值日志垃圾回收间隔
	GCInterval time.Duration

	// GCDiscardRatio 值日志文件可回收比例阈值
	GCDiscardRatio float64

	// MaxTxnRetries 写冲突时 Update 的重试次数
	MaxTxnRetries int
}

// DefaultConfig 返回落盘配置
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		BlockCacheSize: 64 << 20,
		Compression:    1,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
		MaxTxnRetries:  3,
	}
}

// InMemoryConfig 返回内存配置
func InMemoryConfig() Config {
	cfg := DefaultConfig("")
	cfg.InMemory = true
	return cfg
}

// Validate 验证配置并补齐缺省值
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return ErrInvalidConfig
	}
	if c.GCInterval <= 0 {
		c.GCInterval = 10 * time.Minute
	}
	if c.GCDiscardRatio <= 0 || c.GCDiscardRatio >= 1 {
		c.GCDiscardRatio = 0.5
	}
	if c.MaxTxnRetries < 0 {
		c.MaxTxnRetries = 0
	}
	return nil
}

// EnsureDir 创建数据目录并将 Path 转为绝对路径
func (c *Config) EnsureDir() error {
	if c.InMemory {
		return nil
	}
	abs, err := filepath.Abs(c.Path)
	if err != nil {
		return err
	}
	c.Path = abs
	return os.MkdirAll(c.Path, 0o755)
}
