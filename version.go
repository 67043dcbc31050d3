package netsync

// Version 当前版本
const Version = "v0.1.0"

// 构建信息，通过 ldflags 注入
var (
	GitCommit string
	BuildDate string
)

// VersionInfo 返回完整版本信息
func VersionInfo() string {
	info := "netsync " + Version
	if GitCommit != "" {
		info += " (" + GitCommit[:min(8, len(GitCommit))] + ")"
	}
	if BuildDate != "" {
		info += " built " + BuildDate
	}
	return info
}
