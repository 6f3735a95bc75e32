package peer

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseWithoutListen(t *testing.T) {
	s := &Simulator{}
	assert.NoError(t, s.Close())
}

func TestCloseDropsHeldConnections(t *testing.T) {
	sim := &Simulator{Silent: true}
	require.NoError(t, sim.Listen("127.0.0.1:0"))

	conn, err := net.Dial("tcp", sim.Addr())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("{}"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sim.Accepted() == 1 },
		time.Second, time.Millisecond)
	require.NoError(t, sim.Close())

	// A silent peer holds the connection open; Close must tear it down
	// from the server side.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	assert.Error(t, err)
}
