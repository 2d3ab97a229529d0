package reactorhttp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Handles())

	for _, fd := range []int{9, 3, 5} {
		c := newConn(fd, &fakeSocket{}, &net.TCPAddr{}, NewAckResponse(), DefaultMaxInbound, DefaultMaxOutbound)
		require.NoError(t, r.Add(c))
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{3, 5, 9}, r.Handles())

	dup := newConn(5, &fakeSocket{}, &net.TCPAddr{}, NewAckResponse(), DefaultMaxInbound, DefaultMaxOutbound)
	assert.Error(t, r.Add(dup))
	c, ok := r.Get(5)
	require.True(t, ok)
	assert.NotSame(t, dup, c)

	require.NoError(t, r.Remove(5))
	assert.Error(t, r.Remove(5), "removed twice")
	_, ok = r.Get(5)
	assert.False(t, ok)
	assert.Equal(t, []int{3, 9}, r.Handles())

	// a fresh accept may reuse the descriptor
	require.NoError(t, r.Add(dup))
	c, ok = r.Get(5)
	require.True(t, ok)
	assert.Same(t, dup, c)
}
