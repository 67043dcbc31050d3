package storage

import (
	"github.com/dep2p/go-netsync/config"
	"github.com/dep2p/go-netsync/internal/core/storage/engine"
)

// EngineConfig 从统一配置得出引擎配置
func EngineConfig(cfg *config.Config) engine.Config {
	if cfg == nil || cfg.Storage.InMemory {
		return engine.InMemoryConfig()
	}
	return engine.DefaultConfig(cfg.Storage.DBPath())
}
