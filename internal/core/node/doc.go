// Package node 实现绑定到一个 NetworkId 的节点以及 NodesById 注册表
//
// Node 负责：
//   - 监听入站连接并以响应方身份完成握手
//   - 按地址复用或拨号建立出站连接
//   - 为发出的消息生成授权令牌，校验收到消息的令牌
//   - 处理 CloseConnectionMessage、Ping
//   - 向 Listener 扇出消息、连接、断开与关闭事件
//
// NodesById 以 NetworkId 为键管理 Node，按需创建并初始化，
// 将所有节点的事件扇出给独立的监听器集合，并协调并行关闭。
//
// 连接生命周期：
//
//	accept/dial → 握手 → register → OnConnection → Start(读循环)
//	                                   ↓
//	                    MessageEvent → 授权校验 → OnMessage
//	                                   ↓
//	                    ClosedEvent  → 注销 → OnDisconnect
package node
