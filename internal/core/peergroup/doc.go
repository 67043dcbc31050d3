// Package peergroup 维护默认节点的对端集合
//
// StaticManager 在启动时并发拨号配置的种子节点，随后进入 RUNNING，
// 并按 MaintenanceInterval 检查连接数，低于目标时重新拨号未连接的
// 种子。拨号失败的种子按指数退避推迟下一次尝试。
//
// 连接按对端地址区分种子与普通节点，供 inventory 选择候选对端。
package peergroup
