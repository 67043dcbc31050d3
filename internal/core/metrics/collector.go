package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dep2p/go-netsync/internal/core/connection"
	"github.com/dep2p/go-netsync/internal/core/node"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/lib/log"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

var logger = log.Logger("core/metrics")

// Host 被观测的节点
type Host interface {
	NumConnections() int
	AllConnections() []*connection.Connection
}

// Collector 收集并注册所有指标
type Collector struct {
	node.NoopListener

	registry *prometheus.Registry

	messagesReceived *prometheus.CounterVec
	connsOpened      *prometheus.CounterVec
	connsClosed      *prometheus.CounterVec
	dataAdded        *prometheus.CounterVec
	dataRemoved      *prometheus.CounterVec
	pendingRequests  prometheus.Gauge
	allDataReceived  prometheus.Gauge

	subs   []pkgif.Subscription
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewCollector 创建并注册指标，host 为 nil 时不导出连接快照
func NewCollector(namespace string, host Host) (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Network messages received, by message kind.",
		}, []string{"kind"}),
		connsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_opened_total",
			Help:      "Connections that completed the handshake, by direction.",
		}, []string{"direction"}),
		connsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Closed connections, by direction and close reason.",
		}, []string{"direction", "reason"}),
		dataAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "data",
			Name:      "added_total",
			Help:      "Data entries added to the local store, by request kind.",
		}, []string{"kind"}),
		dataRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "data",
			Name:      "removed_total",
			Help:      "Data entries removed from the local store, by request kind.",
		}, []string{"kind"}),
		pendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "pending_requests",
			Help:      "Inventory requests awaiting a response.",
		}),
		allDataReceived: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "all_data_received",
			Help:      "1 once the last inventory round found no missing data.",
		}),
	}

	cs := []prometheus.Collector{
		c.messagesReceived,
		c.connsOpened, c.connsClosed,
		c.dataAdded, c.dataRemoved,
		c.pendingRequests, c.allDataReceived,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
	}
	if host != nil {
		cs = append(cs, hostCollectors(namespace, host)...)
	}
	for _, col := range cs {
		if err := c.registry.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// hostCollectors 抓取时读取连接快照
func hostCollectors(namespace string, host Host) []prometheus.Collector {
	sum := func(f func(*connection.Metrics) int64) func() float64 {
		return func() float64 {
			var n int64
			for _, conn := range host.AllConnections() {
				n += f(conn.Metrics())
			}
			return float64(n)
		}
	}
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Currently registered connections.",
		}, func() float64 { return float64(host.NumConnections()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections_sent_bytes",
			Help:      "Bytes sent over currently open connections.",
		}, sum((*connection.Metrics).SentBytes)),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections_received_bytes",
			Help:      "Bytes received over currently open connections.",
		}, sum((*connection.Metrics).ReceivedBytes)),
	}
}

// Registry 返回指标注册表
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// OnMessage 按类型计数收到的消息
func (c *Collector) OnMessage(msg protocol.NetworkMessage, _ *connection.Connection, _ types.NetworkId) {
	c.messagesReceived.WithLabelValues(msg.Kind().String()).Inc()
}

// OnDisconnect 按方向与关闭原因类型计数
func (c *Collector) OnDisconnect(conn *connection.Connection, reason connection.CloseReason) {
	c.connsClosed.WithLabelValues(conn.Direction().String(), reason.Kind.String()).Inc()
}

// ============================================================================
//                              事件订阅
// ============================================================================

// Subscribe 订阅事件并在后台更新指标，Close 时退出
func (c *Collector) Subscribe(bus pkgif.EventBus) error {
	events := []any{
		new(types.EvtConnectionOpened),
		new(types.EvtPendingRequestsChanged),
		new(types.EvtAllDataReceivedChanged),
		new(types.EvtDataAdded),
		new(types.EvtDataRemoved),
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	for _, evt := range events {
		sub, err := bus.Subscribe(evt, pkgif.BufSize(64))
		if err != nil {
			c.Close()
			return err
		}
		c.subs = append(c.subs, sub)
		c.wg.Add(1)
		go c.consume(ctx, sub)
	}
	return nil
}

func (c *Collector) consume(ctx context.Context, sub pkgif.Subscription) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Out():
			if !ok {
				return
			}
			c.observe(evt)
		}
	}
}

func (c *Collector) observe(evt any) {
	switch e := evt.(type) {
	case types.EvtConnectionOpened:
		c.connsOpened.WithLabelValues(e.Direction.String()).Inc()
	case types.EvtPendingRequestsChanged:
		c.pendingRequests.Set(float64(e.NumPending))
	case types.EvtAllDataReceivedChanged:
		if e.AllDataReceived {
			c.allDataReceived.Set(1)
		} else {
			c.allDataReceived.Set(0)
		}
	case types.EvtDataAdded:
		c.dataAdded.WithLabelValues(e.Kind).Inc()
	case types.EvtDataRemoved:
		c.dataRemoved.WithLabelValues(e.Kind).Inc()
	default:
		logger.Debug("忽略未知事件", "type", evt)
	}
}

// Close 取消订阅并等待后台 goroutine 退出
func (c *Collector) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	for _, sub := range c.subs {
		_ = sub.Close()
	}
	c.subs = nil
	c.wg.Wait()
}
