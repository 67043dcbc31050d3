// Package eventbus 实现类型化的事件总线
//
// 事件类型由指针的元素类型决定。有状态发射器会保存最后一次事件，
// 新订阅者订阅时立即收到该事件，用于发布 inventory 的
// numPendingRequests / allDataReceived 等可观察状态。
//
// 订阅者缓冲区满时事件被丢弃，发射方永不阻塞。
package eventbus
