package inventory

import "errors"

var (
	// ErrRequestTimeout 请求在时限内没有收到响应
	ErrRequestTimeout = errors.New("inventory request timed out")
	// ErrHandlerDisposed handler 已释放
	ErrHandlerDisposed = errors.New("inventory handler disposed")
	// ErrPendingRequest 对端已有进行中的请求
	ErrPendingRequest = errors.New("pending inventory request for peer")
	// ErrNoFilterService 没有对应过滤器类型的服务
	ErrNoFilterService = errors.New("no filter service for filter type")
	// ErrServiceShutdown 服务已关闭
	ErrServiceShutdown = errors.New("inventory service shut down")
	// ErrInvalidDependencies 缺少必需依赖
	ErrInvalidDependencies = errors.New("inventory: missing required dependencies")
)
