package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNetworkId_Immutable(t *testing.T) {
	addrs := AddressByTransportTypeMap{TransportClear: NewAddress("127.0.0.1", 1000)}
	key := []byte{1, 2, 3}
	id := NewNetworkId(addrs, PubKey{KeyID: "k1", PublicKey: key}, "node-1")

	// 修改原始输入不影响已创建的 NetworkId
	addrs[TransportTor] = NewAddress("x.onion", 1)
	key[0] = 9

	_, ok := id.AddressByTransportType().Find(TransportTor)
	assert.False(t, ok)
	assert.Equal(t, byte(1), id.PubKey().PublicKey[0])
}

func TestNetworkId_KeyEquality(t *testing.T) {
	a := NewNetworkId(AddressByTransportTypeMap{TransportClear: NewAddress("h", 1)}, PubKey{KeyID: "k", PublicKey: []byte{1}}, "n")
	b := NewNetworkId(AddressByTransportTypeMap{TransportClear: NewAddress("H", 1)}, PubKey{KeyID: "k", PublicKey: []byte{1}}, "n")
	c := NewNetworkId(AddressByTransportTypeMap{TransportClear: NewAddress("h", 2)}, PubKey{KeyID: "k", PublicKey: []byte{1}}, "n")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestCapability_HasFeature(t *testing.T) {
	c := NewCapability(NewAddress("h", 1), []TransportType{TransportClear}, []Feature{FeatureInventoryHashSet})
	assert.True(t, c.HasFeature(FeatureInventoryHashSet))
	assert.False(t, c.HasFeature(FeatureInventoryMiniSketch))
}
