package client

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kduvra/filerepo/internal/activecluster"
	"github.com/kduvra/filerepo/internal/apperror"
	"github.com/kduvra/filerepo/internal/filestore"
)

// startTestNode spins up a single-node ActiveCluster server (no peers)
// on a loopback port, the same shape activecluster's own tests use, so
// WireClient can be exercised against the real wire-protocol dispatch
// rather than a hand-rolled fake.
func startTestNode(t *testing.T) (addr string, node *activecluster.Node) {
	t.Helper()
	store, err := filestore.New(t.TempDir(), false)
	require.NoError(t, err)

	membership := activecluster.NewMembership("solo", nil)
	transport := activecluster.NewTransport(time.Second)
	locks := activecluster.NewLockManager("solo", membership, transport, false, time.Second, zerolog.Nop())
	node = activecluster.NewNode("solo", store, membership, locks, transport, time.Second, zerolog.Nop())

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr = probe.Addr().String()
	require.NoError(t, probe.Close())

	server := activecluster.NewServer(addr, node, zerolog.Nop())
	go server.Serve()
	t.Cleanup(func() { server.Close() })

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, time.Second, 5*time.Millisecond)

	return addr, node
}

func TestWireClientWriteReadDeleteList(t *testing.T) {
	addr, _ := startTestNode(t)
	wc := NewWireClient(addr, time.Second)

	require.NoError(t, wc.Write("a.txt", "HELLO"))

	got, err := wc.Read("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "HELLO", got)

	names, err := wc.List()
	require.NoError(t, err)
	assert.Equal(t, "a.txt", names)

	require.NoError(t, wc.Delete("a.txt"))

	_, err = wc.Read("a.txt")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.NotFound))
}

func TestWireClientReadMissingIsNotFound(t *testing.T) {
	addr, _ := startTestNode(t)
	wc := NewWireClient(addr, time.Second)

	_, err := wc.Read("missing.txt")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.NotFound))
}

func TestWireClientUnreachablePeer(t *testing.T) {
	wc := NewWireClient("127.0.0.1:1", 50*time.Millisecond)
	err := wc.Write("a.txt", "X")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.PeerUnreachable))
}
