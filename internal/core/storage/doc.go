// Package storage 组装持久化存储
//
// 结构：
//
//	storage (fx 模块)
//	├── engine         引擎接口与配置
//	│   └── badger     BadgerDB 实现
//	└── kv             前缀隔离的键空间
//
// 数据目录由 config.StorageConfig 决定，InMemory 模式下不落盘。
package storage
