package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-netsync/pkg/types"
)

func roundTrip(t *testing.T, env *NetworkEnvelope) *NetworkEnvelope {
	t.Helper()
	b, err := env.Marshal()
	require.NoError(t, err)
	out, err := UnmarshalEnvelope(b)
	require.NoError(t, err)
	return out
}

func TestEnvelope_RoundTrip(t *testing.T) {
	token := AuthorizationToken{Type: TokenHashCash, Payload: []byte{1, 2, 3}}
	capability := types.NewCapability(
		types.NewAddress("127.0.0.1", 8000),
		[]types.TransportType{types.TransportClear, types.TransportTor},
		[]types.Feature{types.FeatureInventoryHashSet},
	)

	messages := []NetworkMessage{
		&HandshakeRequest{Capability: capability, Load: types.InitialNetworkLoad},
		&HandshakeResponse{Capability: capability, Load: types.NetworkLoad{NumConnections: 7, LoadFactor: 0.5}},
		&CloseConnectionMessage{Reason: "SHUTDOWN"},
		&Ping{Nonce: -42},
		&Pong{RequestNonce: 42},
		&InventoryRequest{
			Filter: DataFilter{
				FilterType: FilterHashSet,
				Entries:    []FilterEntry{{Hash: DataHash([]byte("a")), Sequence: 3}},
			},
			Nonce: -123456,
		},
		&InventoryResponse{
			Inventory: Inventory{
				Entries: []DataRequest{
					&AddAuthenticatedDataRequest{Payload: []byte("p"), Sequence: 2, OwnerPubKey: []byte{9}, Signature: []byte{8}, Created: 1700000000000},
					&RemoveAuthenticatedDataRequest{DataHash: DataHash([]byte("p")), Sequence: 3},
					&AddMailboxRequest{ReceiverKeyID: "key-1", Payload: []byte("mail"), Sequence: 1},
					&RemoveMailboxRequest{DataHash: DataHash([]byte("mail")), Sequence: 2},
					&AddAppendOnlyDataRequest{Payload: []byte("trade-stats")},
				},
				MaxSizeReached: true,
			},
			RequestNonce: 99,
		},
	}

	for _, msg := range messages {
		t.Run(msg.Kind().String(), func(t *testing.T) {
			out := roundTrip(t, NewEnvelope(token, msg))
			assert.Equal(t, Version, out.Version)
			assert.Equal(t, token, out.AuthorizationToken)
			assert.Equal(t, msg, out.Message)
		})
	}
}

func TestEnvelope_VersionPreserved(t *testing.T) {
	env := &NetworkEnvelope{Version: 7, Message: &Ping{Nonce: 1}}
	out := roundTrip(t, env)
	assert.Equal(t, int32(7), out.Version)
}

func TestEnvelope_MissingPayload(t *testing.T) {
	_, err := (&NetworkEnvelope{Version: Version}).Marshal()
	assert.ErrorIs(t, err, ErrMissingPayload)

	_, err = UnmarshalEnvelope(appendVarintField(nil, 1, 1))
	assert.ErrorIs(t, err, ErrMissingPayload)
}

func TestEnvelope_UnknownKind(t *testing.T) {
	b := appendVarintField(nil, 1, 1)
	b = appendVarintField(b, 3, 999)
	b = appendMessageField(b, 4, nil)
	_, err := UnmarshalEnvelope(b)
	assert.ErrorIs(t, err, ErrUnknownMessageKind)
}

func TestEnvelope_Truncated(t *testing.T) {
	b, err := NewEnvelope(AuthorizationToken{}, &Ping{Nonce: 5}).Marshal()
	require.NoError(t, err)
	_, err = UnmarshalEnvelope(b[:len(b)-1])
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestInventory_NoDataMissing(t *testing.T) {
	assert.True(t, Inventory{}.NoDataMissing())
	assert.False(t, Inventory{MaxSizeReached: true}.NoDataMissing())
}

func TestInventory_Summary(t *testing.T) {
	inv := Inventory{Entries: []DataRequest{
		&AddAppendOnlyDataRequest{Payload: []byte("a")},
		&AddAppendOnlyDataRequest{Payload: []byte("b")},
		&RemoveMailboxRequest{DataHash: []byte{1}},
	}}
	assert.Equal(t, "entries=3 [RemoveMailboxRequest=1, AddAppendOnlyDataRequest=2] maxSizeReached=false", inv.Summary())
}

func TestDataRequest_Hash(t *testing.T) {
	add := &AddMailboxRequest{Payload: []byte("x")}
	remove := &RemoveMailboxRequest{DataHash: add.Hash()}
	assert.Len(t, add.Hash(), HashSize)
	assert.Equal(t, add.Hash(), remove.Hash())
}

func TestEncodedSize(t *testing.T) {
	r := &AddAppendOnlyDataRequest{Payload: make([]byte, 300)}
	inv := Inventory{Entries: []DataRequest{r}}
	assert.Equal(t, len(inv.appendWire(nil)), EncodedSize(r))
}

func TestParseFilterType(t *testing.T) {
	ft, err := ParseFilterType("hash_set")
	require.NoError(t, err)
	assert.Equal(t, FilterHashSet, ft)
	_, err = ParseFilterType("bloom")
	assert.Error(t, err)
}
