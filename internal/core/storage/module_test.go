package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-netsync/config"
	"github.com/dep2p/go-netsync/internal/core/storage/engine"
)

func TestEngineConfig(t *testing.T) {
	assert.True(t, EngineConfig(nil).InMemory)

	cfg := config.NewConfig()
	cfg.Storage.DataDir = "/tmp/netsync"
	ec := EngineConfig(cfg)
	assert.False(t, ec.InMemory)
	assert.Equal(t, cfg.Storage.DBPath(), ec.Path)

	cfg.Storage.InMemory = true
	assert.True(t, EngineConfig(cfg).InMemory)
}

func TestModule_Lifecycle(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Storage.DataDir = t.TempDir()

	var eng engine.Engine
	app := fxtest.New(t,
		fx.Supply(cfg),
		Module(),
		fx.Populate(&eng),
	)
	app.RequireStart()

	store := NewKVStore(eng, []byte("m/"))
	require.NoError(t, store.Put([]byte("k"), []byte("v")))

	app.RequireStop()
	assert.ErrorIs(t, store.Put([]byte("k"), []byte("v")), ErrClosed)
}
