package crypto

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	addr := key.PubKey().Address()
	require.Equal(t, MemberPrefix, addr.Prefix())
	require.False(t, addr.IsZero())

	raw, err := DecodeMemberAddress(addr.String())
	require.NoError(t, err)
	require.Equal(t, addr.Raw(), raw)
}

func TestDecodeMemberAddressRejectsForeignPrefix(t *testing.T) {
	var raw [AddressLength]byte
	raw[0] = 0x42
	foreign := NewAddress(AddressPrefix("other"), raw[:])

	_, err := DecodeMemberAddress(foreign.String())
	require.Error(t, err)

	_, err = DecodeMemberAddress("   ")
	require.Error(t, err)
}

func TestZeroAddress(t *testing.T) {
	require.True(t, Address{}.IsZero())
	require.True(t, MemberAddress([AddressLength]byte{}).IsZero())
	require.Equal(t, "", Address{}.String())
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keys", "admin.keystore")
	require.NoError(t, SaveToKeystoreWithStrength(path, key, "correct horse", KeystoreLight))

	recorded, err := KeystoreAddress(path)
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address().String(), recorded.String())

	loaded, err := LoadFromKeystore(path, "correct horse")
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address().String(), loaded.PubKey().Address().String())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}
