// Package executor 提供注入式的执行资源
//
//   - Pool: 有界 I/O 池，Submit 承载短任务，Go 承载与连接同寿命的读循环（不占容量）
//   - Dispatcher: 单 goroutine 串行分发器，承载所有监听器回调
//
// 两者都由组装方创建并拥有生命周期，不存在进程级单例。
package executor
