// Package datastore 持久化网络数据并为 inventory 同步提供本地视图
//
// Store 同时实现 DataService 与 InventoryStore：
//
//	InventoryResponse ──► ProcessAdd/RemoveDataRequest ──► badger
//	                                                        │
//	DataFilter ◄── KnownEntries ◄───────────────────────────┤
//	Inventory  ◄── Missing(filter, maxBytes) ◄──────────────┘
//
// 每个哈希保存最新序号，删除后序号作为墓碑保留，旧序号的新增或删除被拒绝。
// 只追加数据不可删除，也不可覆盖。
package datastore
