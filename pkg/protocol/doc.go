// Package protocol 定义 netsync 的线上消息模型
//
// 所有消息都封装在 NetworkEnvelope 中传输：
//
//	NetworkEnvelope {
//	    version            int32   (field 1)
//	    authorizationToken bytes   (field 2)
//	    kind               varint  (field 3)
//	    payload            bytes   (field 4)
//	}
//
// 字段编码与 protobuf 线格式兼容（google.golang.org/protobuf/encoding/protowire），
// 外层的长度前缀由 internal/core/envelope 负责。
//
// # 消息类型
//
//   - HandshakeRequest / HandshakeResponse - 连接握手，交换 Capability 与 NetworkLoad
//   - CloseConnectionMessage              - 主动关闭通知
//   - Ping / Pong                         - 保活
//   - InventoryRequest / InventoryResponse - 反熵同步请求与响应
//
// Inventory 中的条目是自描述的数据变更请求（见 data.go）。
package protocol
