package port

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFree_ReturnsBindablePort(t *testing.T) {
	p, err := Free("127.0.0.1")
	require.NoError(t, err)
	assert.Greater(t, p, 0)
	assert.LessOrEqual(t, p, 65535)

	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(p)))
	require.NoError(t, err, "port %d should be bindable after release", p)
	require.NoError(t, l.Close())
}

func TestAllocator_DistinctPorts(t *testing.T) {
	a := NewAllocatorOn("127.0.0.1")

	seen := make(map[int]bool)
	for i := 0; i < 12; i++ {
		p, err := a.Acquire()
		require.NoError(t, err)
		assert.False(t, seen[p], "port %d issued twice", p)
		seen[p] = true
	}
	assert.Equal(t, 12, a.Issued())
}

func TestAllocator_DefaultHost(t *testing.T) {
	a := NewAllocator()
	p, err := a.Acquire()
	require.NoError(t, err)
	assert.Greater(t, p, 0)
}
