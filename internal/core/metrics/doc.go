// Package metrics 以 Prometheus 格式导出 netsync 运行指标
//
// Collector 有三个数据来源：
//
//	node.Listener ──► 按类型计数的收到消息、连接关闭原因
//	EventBus      ──► 连接开闭、inventory 状态、数据增删
//	GaugeFunc     ──► 抓取时读取的连接数与字节数
//
// Server 在配置的地址上暴露 /metrics。
package metrics
