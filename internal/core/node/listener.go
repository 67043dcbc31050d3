package node

import (
	"github.com/dep2p/go-netsync/internal/core/connection"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

// Listener 节点事件监听器
//
// 所有回调在分发器上串行执行，不能阻塞。实现必须是可比较类型（通常为指针），
// 以便注销。
type Listener interface {
	// OnMessage 收到通过授权校验的消息
	OnMessage(msg protocol.NetworkMessage, conn *connection.Connection, networkID types.NetworkId)

	// OnConnection 连接完成握手并注册，先于该连接的任何消息
	OnConnection(conn *connection.Connection)

	// OnDisconnect 已注册的连接关闭
	OnDisconnect(conn *connection.Connection, reason connection.CloseReason)

	// OnShutdown 节点关闭完成
	OnShutdown(node *Node)
}

// NoopListener 空实现，嵌入后只覆盖需要的回调
type NoopListener struct{}

func (NoopListener) OnMessage(protocol.NetworkMessage, *connection.Connection, types.NetworkId) {}
func (NoopListener) OnConnection(*connection.Connection)                                        {}
func (NoopListener) OnDisconnect(*connection.Connection, connection.CloseReason)                {}
func (NoopListener) OnShutdown(*Node)                                                           {}

// NodeListener NodesById 的注册表事件
type NodeListener interface {
	OnNodeAdded(node *Node)
	OnNodeRemoved(node *Node)
}
