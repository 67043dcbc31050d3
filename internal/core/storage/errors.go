package storage

import "github.com/dep2p/go-netsync/internal/core/storage/engine"

// 重导出引擎错误
var (
	ErrNotFound      = engine.ErrNotFound
	ErrClosed        = engine.ErrClosed
	ErrInvalidConfig = engine.ErrInvalidConfig
	ErrCorrupted     = engine.ErrCorrupted
)
