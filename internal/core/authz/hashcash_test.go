package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

func TestHashCash_CreateAndVerify(t *testing.T) {
	svc, err := NewHashCashService(10)
	require.NoError(t, err)

	peer := types.NewAddress("127.0.0.1", 9000)
	msg := &protocol.Ping{Nonce: 42}

	token, err := svc.CreateToken(msg, peer)
	require.NoError(t, err)
	assert.Equal(t, protocol.TokenHashCash, token.Type)
	assert.True(t, svc.IsAuthorized(msg, token, peer))
}

func TestHashCash_BoundToChallengeAndMessage(t *testing.T) {
	svc, err := NewHashCashService(12)
	require.NoError(t, err)

	peer := types.NewAddress("127.0.0.1", 9000)
	msg := &protocol.Ping{Nonce: 42}
	token, err := svc.CreateToken(msg, peer)
	require.NoError(t, err)

	// 校验失败的概率为 1 - 2^-12
	assert.False(t, svc.IsAuthorized(msg, token, types.NewAddress("127.0.0.1", 9001)))
	assert.False(t, svc.IsAuthorized(&protocol.Ping{Nonce: 43}, token, peer))
}

func TestHashCash_RejectsMalformed(t *testing.T) {
	svc, err := NewHashCashService(0)
	require.NoError(t, err)

	peer := types.NewAddress("127.0.0.1", 9000)
	msg := &protocol.Ping{}
	assert.False(t, svc.IsAuthorized(msg, protocol.AuthorizationToken{}, peer))
	assert.False(t, svc.IsAuthorized(msg, protocol.AuthorizationToken{Type: protocol.TokenHashCash, Payload: []byte{1}}, peer))

	token, err := svc.CreateToken(msg, peer)
	require.NoError(t, err)
	assert.True(t, svc.IsAuthorized(msg, token, peer))
}

func TestHashCash_StricterReceiver(t *testing.T) {
	lax, err := NewHashCashService(0)
	require.NoError(t, err)
	strict, err := NewHashCashService(MaxDifficulty)
	require.NoError(t, err)

	peer := types.NewAddress("127.0.0.1", 9000)
	msg := &protocol.Ping{Nonce: 1}
	token, err := lax.CreateToken(msg, peer)
	require.NoError(t, err)
	// 计数器 0 满足 32 个前导零的概率可忽略
	assert.False(t, strict.IsAuthorized(msg, token, peer))
}

func TestNewHashCashService_InvalidDifficulty(t *testing.T) {
	_, err := NewHashCashService(-1)
	assert.ErrorIs(t, err, ErrInvalidDifficulty)
	_, err = NewHashCashService(MaxDifficulty + 1)
	assert.ErrorIs(t, err, ErrInvalidDifficulty)
}

func TestLeadingZeroBits(t *testing.T) {
	var d [32]byte
	assert.Equal(t, 256, leadingZeroBits(d))
	d[1] = 0x10
	assert.Equal(t, 11, leadingZeroBits(d))
}
