// Package netsync 组装一个完整的 P2P 数据同步节点
//
// 节点由以下组件构成：
//
//   - NodesById / 默认 Node：连接注册表、握手、消息分发
//   - PeerGroup：拨号种子节点并维持目标连接数
//   - Inventory：周期性地向种子和普通对端请求缺失数据（反熵同步）
//   - DataStore：BadgerDB 上的数据存储，同时回答对端的 inventory 请求
//   - Outbound：可选的非阻塞出站连接复用器
//   - Metrics：Prometheus 指标
//
// # 快速开始
//
//	cfg := config.NewConfig()
//	cfg.PeerGroup.SeedAddresses = []string{"seed.example.org:8000"}
//
//	n, err := netsync.New(cfg, netsync.WithDataDir("/var/lib/netsync"))
//	if err != nil {
//	    return err
//	}
//	if err := n.Start(ctx); err != nil {
//	    return err
//	}
//	defer n.Stop(context.Background())
//
//	// 本地发布数据
//	n.DataStore().ProcessAddDataRequest(req, true)
//
//	// 等待首轮同步完成
//	n.Inventory().AllDataReceived()
package netsync
