// Package inventory 实现数据的反熵同步
//
// 请求方向候选对端发送携带 DataFilter 的 InventoryRequest，对端返回
// 过滤器未覆盖的数据差量：
//
//	RequestService.maybeRequestInventory
//	  ├─ 选择候选连接（种子 + 普通节点，排除已有请求与过滤器不匹配的对端）
//	  ├─ 每个候选一个 Handler：随机 nonce，超时 RequestTimeout
//	  ├─ 每个响应立即应用到 DataService
//	  └─ 本轮全部结束后：无候选 10s 重试；数据不完整 1s 重试；
//	     全部完整则标记 allDataReceived，RepeatRequestInterval 后再次同步
//
// ResponseService 在同一节点上回答对端的请求。
package inventory
