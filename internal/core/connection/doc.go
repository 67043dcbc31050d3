// Package connection 实现与单个对端的帧化 envelope 交换
//
// 每个 Connection：
//   - 串行化写入（单一写锁，并发发送方排队而不是字节交错）
//   - 在共享 I/O 池上运行唯一一个读循环（Pool.Go，不占短任务容量）
//   - 通过注入的串行分发器把消息与关闭事件交给 Handler 和监听器，
//     同一连接的回调从不并发，关闭通知总是最后一个
//   - Close 幂等，第一次调用时通知一次，随后清空监听器
//
// 入站与出站连接是同一类型，只以 Direction 区分；出站连接的对端地址
// 天然已验证，入站连接需要显式确认。
package connection
