package interfaces

import (
	"context"
	"net"

	"github.com/dep2p/go-netsync/pkg/types"
)

// TransportDialer 建立到指定地址的原始连接
type TransportDialer interface {
	Dial(ctx context.Context, addr types.Address) (net.Conn, error)
}

// TransportService 传输服务
//
// 本层只使用已经引导完成的传输，Tor/I2P 线路的建立由实现方负责。
type TransportService interface {
	TransportDialer

	// Type 返回传输类型
	Type() types.TransportType

	// Listen 在指定端口监听，返回监听器与对外地址
	Listen(ctx context.Context, port int) (net.Listener, types.Address, error)
}
