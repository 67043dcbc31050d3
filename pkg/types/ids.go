package types

import "github.com/google/uuid"

// NewUID 生成随机唯一 ID
func NewUID() string {
	return uuid.NewString()
}

// ShortID 截取 ID 前 8 个字符用于日志显示
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
