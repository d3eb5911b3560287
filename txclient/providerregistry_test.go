package txclient

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubProvider struct{ scheme string }

func (p stubProvider) Scheme() string { return p.scheme }

func TestProviderRegistryLookupByScheme(t *testing.T) {
	reg := NewProviderRegistry()
	reg.Register("remote", stubProvider{scheme: "remote"})

	loc, _ := url.Parse("remote://peer1")
	provider, err := reg.Lookup(loc)
	require.NoError(t, err)
	require.Equal(t, "remote", provider.Scheme())

	unknownLoc, _ := url.Parse("http://peer1")
	_, err = reg.Lookup(unknownLoc)
	require.ErrorIs(t, err, ErrNoProviderForURI)

	_, err = reg.ByScheme("missing")
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestNodeNameFromXidFormatIDGate(t *testing.T) {
	uid := make([]byte, 28)
	xid := ParseXid(FormatIDPeer, append(uid, []byte("node-a")...), nil)

	name, ok := NodeNameFromXid(xid)
	require.True(t, ok)
	require.Equal(t, "node-a", name)

	short := ParseXid(FormatIDPeer, uid, nil)
	_, ok = NodeNameFromXid(short)
	require.False(t, ok)

	other := ParseXid(0x1, append(uid, []byte("node-a")...), nil)
	_, ok = NodeNameFromXid(other)
	require.False(t, ok)
}

func TestEncodeDecodeRecoveryLocation(t *testing.T) {
	base, _ := url.Parse("remote://peer1")
	loc, err := EncodeRecoveryLocation(base, "parent-tx")
	require.NoError(t, err)

	name, ok := DecodeRecoveryLocationParentName(loc)
	require.True(t, ok)
	require.Equal(t, "parent-tx", name)
}
