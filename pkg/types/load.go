package types

// NetworkLoad 对端上报的负载指标
//
// 本层只作为数据携带，由上层用于公平性计算。
type NetworkLoad struct {
	NumConnections int32
	LoadFactor     float64
}

// InitialNetworkLoad 握手时使用的初始负载
var InitialNetworkLoad = NetworkLoad{NumConnections: 1, LoadFactor: 0.1}
