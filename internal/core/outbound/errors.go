package outbound

import "errors"

var (
	// ErrReactorClosed 复用器已关闭
	ErrReactorClosed = errors.New("outbound reactor closed")
	// ErrManagerClosed 连接管理器已关闭
	ErrManagerClosed = errors.New("outbound connection manager closed")
	// ErrUnsupportedTransport 复用器只处理明网地址
	ErrUnsupportedTransport = errors.New("outbound multiplexer only supports clear-net addresses")
	// ErrUnsupportedPlatform 当前平台没有非阻塞 socket 实现
	ErrUnsupportedPlatform = errors.New("outbound multiplexer is not supported on this platform")
	// ErrNotActive 通道尚未完成握手
	ErrNotActive = errors.New("channel is not active")
	// ErrInvalidDescriptor poll 报告描述符无效
	ErrInvalidDescriptor = errors.New("invalid descriptor")
	// ErrUnauthorized 消息授权校验失败
	ErrUnauthorized = errors.New("message authorization failed")
	// ErrInvalidDependencies 缺少必需依赖
	ErrInvalidDependencies = errors.New("outbound: missing required dependencies")
)
