package connection

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed 在已关闭的连接上发送
	ErrConnectionClosed = errors.New("connection closed")

	// ErrVersionMismatch envelope 版本与本地协议版本不一致
	ErrVersionMismatch = errors.New("network protocol version mismatch")

	// ErrAlreadyStarted 读循环已启动
	ErrAlreadyStarted = errors.New("connection already started")

	// ErrInvalidConfig 缺少必要的依赖
	ErrInvalidConfig = errors.New("invalid connection config")
)

// Error 连接级错误
type Error struct {
	Conn   *Connection
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Conn == nil {
		return fmt.Sprintf("connection: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("connection %s: %s: %v", e.Conn.shortID(), e.Reason, e.Err)
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Err
}
