// Package types 定义 netsync 的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他 netsync 内部包。
// 所有类型都是值类型，创建后不再修改。
//
// # 文件组织
//
//   - address.go     - Address, TransportType, AddressByTransportTypeMap
//   - network_id.go  - NetworkId, PubKey
//   - capability.go  - Capability, Feature
//   - load.go        - NetworkLoad
//   - enums.go       - Direction
//   - ids.go         - UID 生成
//   - events.go      - 事件总线上的事件类型（连接、同步进度、数据变更）
package types
