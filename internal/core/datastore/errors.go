package datastore

import "errors"

var (
	// ErrUnsupportedFilter 过滤器类型无法计算差量
	ErrUnsupportedFilter = errors.New("datastore: unsupported filter type")

	// ErrClosed 存储已关闭
	ErrClosed = errors.New("datastore: closed")
)
