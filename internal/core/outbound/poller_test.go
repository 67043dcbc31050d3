//go:build linux || darwin

package outbound

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoller_WakeInterruptsWait(t *testing.T) {
	p, err := newPoller()
	require.NoError(t, err)
	defer p.close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		events, err := p.wait(-1)
		assert.NoError(t, err)
		assert.Empty(t, events)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.wake())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("wait not interrupted")
	}
}

func TestPoller_WakeBeforeWaitIsNotLost(t *testing.T) {
	p, err := newPoller()
	require.NoError(t, err)
	defer p.close()

	require.NoError(t, p.wake())
	require.NoError(t, p.wake())

	start := time.Now()
	_, err = p.wait(5 * time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPoller_Interest(t *testing.T) {
	p, err := newPoller()
	require.NoError(t, err)

	p.set(100, evReadable)
	p.set(100, evReadable|evWritable)
	assert.Equal(t, 1, p.len())
	p.remove(100)
	assert.Zero(t, p.len())

	require.NoError(t, p.close())
	require.NoError(t, p.close())
	assert.ErrorIs(t, p.wake(), ErrReactorClosed)
	_, err = p.wait(0)
	assert.ErrorIs(t, err, ErrReactorClosed)
}
