package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-netsync/internal/core/connection"
	"github.com/dep2p/go-netsync/internal/core/eventbus"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

type fakeHost struct{ n int }

func (h fakeHost) NumConnections() int                      { return h.n }
func (h fakeHost) AllConnections() []*connection.Connection { return nil }

func TestCollector_CountsReceivedMessages(t *testing.T) {
	c, err := NewCollector("test", nil)
	require.NoError(t, err)

	c.OnMessage(&protocol.Ping{Nonce: 1}, nil, types.NetworkId{})
	c.OnMessage(&protocol.Ping{Nonce: 2}, nil, types.NetworkId{})
	c.OnMessage(&protocol.InventoryRequest{Nonce: 3}, nil, types.NetworkId{})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.messagesReceived.WithLabelValues(protocol.KindPing.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.messagesReceived.WithLabelValues(protocol.KindInventoryRequest.String())))
}

func TestCollector_HostGauges(t *testing.T) {
	c, err := NewCollector("test", fakeHost{n: 3})
	require.NoError(t, err)

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == "test_connections" {
			found = true
			assert.Equal(t, 3.0, mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found)
}

func TestCollector_ObservesEvents(t *testing.T) {
	c, err := NewCollector("test", nil)
	require.NoError(t, err)
	bus := eventbus.NewBus()
	require.NoError(t, c.Subscribe(bus))
	defer c.Close()

	emit := func(evt any, v any) {
		em, err := bus.Emitter(evt)
		require.NoError(t, err)
		defer em.Close()
		require.NoError(t, em.Emit(v))
	}
	emit(new(types.EvtPendingRequestsChanged), types.EvtPendingRequestsChanged{NumPending: 4})
	emit(new(types.EvtAllDataReceivedChanged), types.EvtAllDataReceivedChanged{AllDataReceived: true})
	emit(new(types.EvtDataAdded), types.EvtDataAdded{Kind: "AddAppendOnlyDataRequest"})
	emit(new(types.EvtConnectionOpened), types.EvtConnectionOpened{Direction: types.DirOutbound})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.pendingRequests) == 4 &&
			testutil.ToFloat64(c.allDataReceived) == 1 &&
			testutil.ToFloat64(c.dataAdded.WithLabelValues("AddAppendOnlyDataRequest")) == 1 &&
			testutil.ToFloat64(c.connsOpened.WithLabelValues(types.DirOutbound.String())) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCollector_CloseWithoutSubscribe(t *testing.T) {
	c, err := NewCollector("test", nil)
	require.NoError(t, err)
	c.Close()
}

func TestServer_ServesMetrics(t *testing.T) {
	c, err := NewCollector("test", fakeHost{n: 1})
	require.NoError(t, err)
	srv := NewServer("127.0.0.1:0", c.Registry())
	require.NoError(t, srv.Start())
	defer func() { _ = srv.Stop(context.Background()) }()

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "test_connections 1")
}

var _ pkgif.EventBus = (*eventbus.Bus)(nil)
