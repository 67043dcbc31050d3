// Package tcp 提供明网 TCP 传输
//
// 实现 TransportService：在配置的主机上监听，按 host:port 拨号。
// 记录打开的监听器与连接，Close 时统一关闭。
package tcp
