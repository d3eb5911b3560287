package txid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithoutBranchStripsBranchOnly(t *testing.T) {
	xid := New(1, []byte("global"), []byte("branch"))
	gtid := xid.WithoutBranch()

	require.Equal(t, int32(1), gtid.FormatID)
	require.Equal(t, []byte("global"), gtid.GlobalID)
	require.Empty(t, gtid.BranchID)
}

func TestCompareOrdersByFormatIDThenGlobalThenBranch(t *testing.T) {
	a := New(1, []byte("a"), []byte("a"))
	b := New(1, []byte("a"), []byte("b"))
	c := New(2, []byte("a"), []byte("a"))

	require.Negative(t, a.Compare(b))
	require.Positive(t, b.Compare(a))
	require.Negative(t, b.Compare(c))
	require.Zero(t, a.Compare(a))
}

func TestEqualIgnoresSliceIdentity(t *testing.T) {
	a := New(1, []byte("g"), []byte("b"))
	b := New(1, []byte("g"), []byte("b"))
	require.True(t, a.Equal(b))
}
