// Package interfaces 定义 netsync 核心消费的协作方接口
//
// 本层只依赖这些能力，不持有它们的状态：
//
//   - data.go       - DataService / InventoryStore 本地数据存储
//   - transport.go  - TransportService / TransportDialer 传输引导
//   - security.go   - AuthorizationService / KeyBundleService / Signer
//   - banlist.go    - BanList 黑名单
//   - peergroup.go  - PeerGroup 生命周期状态与状态监听器
//   - eventbus.go   - EventBus 事件总线
//
// 依赖具体连接类型的接口（例如 peer group 的连接迭代器）定义在使用方包内。
package interfaces
