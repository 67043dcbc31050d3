package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyBundle_SignVerify(t *testing.T) {
	k, err := Generate()
	require.NoError(t, err)

	data := []byte("inventory")
	sig, err := k.Signer().Sign(data)
	require.NoError(t, err)

	pub := k.PubKey().PublicKey
	assert.True(t, k.Verify(pub, data, sig))
	assert.False(t, k.Verify(pub, []byte("other"), sig))
	assert.False(t, k.Verify(pub[:10], data, sig))
	id, err := base58.Decode(k.PubKey().KeyID)
	require.NoError(t, err)
	assert.Len(t, id, keyIDSize)
	assert.Equal(t, k.PubKey().KeyID, KeyID(pub))
}

func TestLoadOrCreate_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "node.key")

	first, err := LoadOrCreate(path)
	require.NoError(t, err)
	second, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, first.PubKey().Equal(second.PubKey()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	bad := filepath.Join(dir, "bad")
	require.NoError(t, os.WriteFile(bad, []byte("not pem"), 0600))
	_, err = Load(bad)
	assert.ErrorIs(t, err, ErrInvalidPEM)
}

func TestFromPrivateKey_InvalidSize(t *testing.T) {
	_, err := FromPrivateKey(make([]byte, 10))
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}
