package tcp

import "errors"

var (
	// ErrTransportClosed 传输已关闭
	ErrTransportClosed = errors.New("transport closed")
	// ErrUnsupportedAddress 不是明网地址
	ErrUnsupportedAddress = errors.New("tcp transport only dials clear-net addresses")
)
