package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/types"
)

func receive(t *testing.T, sub pkgif.Subscription) any {
	t.Helper()
	select {
	case evt := <-sub.Out():
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func TestBus_EmitAndReceive(t *testing.T) {
	bus := NewBus()

	sub, err := bus.Subscribe(new(types.EvtPendingRequestsChanged))
	require.NoError(t, err)
	defer sub.Close()

	em, err := bus.Emitter(new(types.EvtPendingRequestsChanged))
	require.NoError(t, err)
	defer em.Close()

	require.NoError(t, em.Emit(types.EvtPendingRequestsChanged{NumPending: 3}))
	evt := receive(t, sub).(types.EvtPendingRequestsChanged)
	assert.Equal(t, 3, evt.NumPending)
}

func TestBus_NonPointerType(t *testing.T) {
	bus := NewBus()
	_, err := bus.Subscribe(types.EvtPendingRequestsChanged{})
	assert.ErrorIs(t, err, ErrNonPointerType)
	_, err = bus.Emitter(nil)
	assert.ErrorIs(t, err, ErrInvalidEventType)
}

func TestEmitter_WrongType(t *testing.T) {
	bus := NewBus()
	em, err := bus.Emitter(new(types.EvtPendingRequestsChanged))
	require.NoError(t, err)

	err = em.Emit(types.EvtAllDataReceivedChanged{AllDataReceived: true})
	assert.ErrorIs(t, err, ErrWrongEventType)

	assert.NoError(t, em.Emit(&types.EvtPendingRequestsChanged{}))
}

func TestEmitter_Stateful(t *testing.T) {
	bus := NewBus()
	em, err := bus.Emitter(new(types.EvtAllDataReceivedChanged), pkgif.Stateful())
	require.NoError(t, err)
	defer em.Close()

	require.NoError(t, em.Emit(types.EvtAllDataReceivedChanged{AllDataReceived: false}))
	require.NoError(t, em.Emit(types.EvtAllDataReceivedChanged{AllDataReceived: true}))

	sub, err := bus.Subscribe(new(types.EvtAllDataReceivedChanged))
	require.NoError(t, err)
	defer sub.Close()

	evt := receive(t, sub).(types.EvtAllDataReceivedChanged)
	assert.True(t, evt.AllDataReceived)
}

func TestEmitter_Closed(t *testing.T) {
	bus := NewBus()
	em, err := bus.Emitter(new(types.EvtDataAdded))
	require.NoError(t, err)
	require.NoError(t, em.Close())
	require.NoError(t, em.Close())
	assert.ErrorIs(t, em.Emit(types.EvtDataAdded{}), ErrEmitterClosed)
	assert.Empty(t, bus.GetAllEventTypes())
}

func TestSubscription_CloseClosesChannel(t *testing.T) {
	bus := NewBus()
	sub, err := bus.Subscribe(new(types.EvtDataAdded))
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	_, ok := <-sub.Out()
	assert.False(t, ok)
}

func TestBus_SlowConsumerDoesNotBlock(t *testing.T) {
	bus := NewBus()
	sub, err := bus.Subscribe(new(types.EvtDataAdded), pkgif.BufSize(1))
	require.NoError(t, err)
	defer sub.Close()
	em, err := bus.Emitter(new(types.EvtDataAdded))
	require.NoError(t, err)
	defer em.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, em.Emit(types.EvtDataAdded{}))
	}
	assert.Len(t, sub.Out(), 1)
}

func TestBus_ConcurrentEmitSubscribe(t *testing.T) {
	bus := NewBus()
	em, err := bus.Emitter(new(types.EvtPendingRequestsChanged))
	require.NoError(t, err)
	defer em.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = em.Emit(types.EvtPendingRequestsChanged{NumPending: i})
		}(i)
		go func() {
			defer wg.Done()
			sub, err := bus.Subscribe(new(types.EvtPendingRequestsChanged))
			if err == nil {
				_ = sub.Close()
			}
		}()
	}
	wg.Wait()
}

func TestModule(t *testing.T) {
	var bus pkgif.EventBus
	app := fxtest.New(t, Module(), fx.Populate(&bus))
	app.RequireStart()
	defer app.RequireStop()
	assert.NotNil(t, bus)
}
