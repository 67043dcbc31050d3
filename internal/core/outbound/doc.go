// Package outbound 实现非阻塞的出站连接复用器
//
// 一个 reactor goroutine 通过 poll(2) 驱动所有出站连接的建立、握手
// 与读写：
//
//	Multiplexer.GetConnection(addr)
//	  └─ Manager.CreateNewConnection  非阻塞 connect，关注可写
//	       └─ reactor: Wait → HandleConnectable  检查 SO_ERROR，写入握手请求
//	            └─ HandleReadable  首个 envelope 完成握手，之后投递消息
//	                 └─ Manager 通知 OnNewConnection → future 完成
//
// 其他 goroutine 修改关注事件后通过自管道唤醒 reactor，不会丢失唤醒。
// 文件描述符只由 reactor 在两次 poll 之间关闭，避免描述符复用导致的串号。
//
// 系统调用部分仅支持 linux 与 darwin，其余平台返回 ErrUnsupportedPlatform。
package outbound
