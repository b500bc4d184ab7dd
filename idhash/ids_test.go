package idhash

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSumDeterministic(t *testing.T) {
	a := Sum([]byte("alpha"), []byte("beta"))
	b := Sum([]byte("alpha"), []byte("beta"))
	require.Equal(t, a, b)

	c := Sum([]byte("alphabeta"))
	require.NotEqual(t, a, c, "Sum must not be a naive concatenation hash")
}

func TestZeroHash(t *testing.T) {
	var z Hash32
	require.True(t, z.IsZero())

	nz := Sum([]byte("x"))
	require.False(t, nz.IsZero())
}

func TestFromHexRoundTrip(t *testing.T) {
	h := Sum([]byte("round-trip"))
	parsed, err := FromHex(h.String())
	require.NoError(t, err)
	require.Equal(t, h, parsed)

	_, err = FromHex("not-hex")
	require.Error(t, err)

	_, err = FromHex("aabb")
	require.Error(t, err)
}

func TestNewAuthorityIdUnique(t *testing.T) {
	a, err := NewAuthorityId(rand.Reader)
	require.NoError(t, err)
	b, err := NewAuthorityId(rand.Reader)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestAuthorityIdShortDeterministic(t *testing.T) {
	var a AuthorityId
	copy(a[:], bytes.Repeat([]byte{0x42}, 16))
	require.Equal(t, a.Short(), a.Short())
	require.NotEmpty(t, a.Short())
}
