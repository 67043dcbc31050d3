package node

import "errors"

var (
	// ErrNodeShutdown 节点已关闭或正在关闭
	ErrNodeShutdown = errors.New("node is shut down")
	// ErrNotInitialized 节点尚未初始化
	ErrNotInitialized = errors.New("node is not initialized")
	// ErrNodeNotFound 注册表中不存在该节点
	ErrNodeNotFound = errors.New("node not found")
	// ErrUnauthorized 消息授权令牌校验失败
	ErrUnauthorized = errors.New("message authorization failed")
	// ErrDuplicateConnection 与同一对端已存在入站连接
	ErrDuplicateConnection = errors.New("duplicate connection")
	// ErrTooManyConnections 超过最大连接数
	ErrTooManyConnections = errors.New("too many connections")
	// ErrInvalidDependencies 缺少必需依赖
	ErrInvalidDependencies = errors.New("invalid node dependencies")
)
