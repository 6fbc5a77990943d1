package activecluster

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kduvra/filerepo/internal/apperror"
	"github.com/kduvra/filerepo/internal/filestore"
)

type harness struct {
	node       *Node
	server     *Server
	membership *Membership
	addr       string
}

func newHarness(t *testing.T, selfID string, requireUnanimity bool) *harness {
	t.Helper()
	store, err := filestore.New(t.TempDir(), false)
	require.NoError(t, err)

	membership := NewMembership(selfID, nil)
	transport := NewTransport(2 * time.Second)
	locks := NewLockManager(selfID, membership, transport, requireUnanimity, time.Second, zerolog.Nop())
	node := NewNode(selfID, store, membership, locks, transport, time.Second, zerolog.Nop())
	server := NewServer("127.0.0.1:0", node, zerolog.Nop())

	return &harness{node: node, server: server, membership: membership}
}

// listenAndServe reserves a free loopback port, rebuilds the harness's
// server against that fixed address, and starts serving in the
// background, returning the address other nodes should dial.
func (h *harness) listenAndServe(t *testing.T) string {
	t.Helper()
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := probe.Addr().String()
	require.NoError(t, probe.Close())

	h.addr = addr
	h.server = NewServer(addr, h.node, zerolog.Nop())
	go h.server.Serve()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, time.Second, 5*time.Millisecond)

	return addr
}

func TestThreeNodeActiveWriteFansOut(t *testing.T) {
	// S3: Active write on 3 nodes — P2 coordinates a write, P1 and P3
	// both commit, final state matches on all three stores.
	p1 := newHarness(t, "P1", false)
	p2 := newHarness(t, "P2", false)
	p3 := newHarness(t, "P3", false)

	addr1 := p1.listenAndServe(t)
	addr2 := p2.listenAndServe(t)
	addr3 := p3.listenAndServe(t)
	defer p1.server.Close()
	defer p2.server.Close()
	defer p3.server.Close()

	p1.membership.Add("P2", addr2)
	p1.membership.Add("P3", addr3)
	p2.membership.Add("P1", addr1)
	p2.membership.Add("P3", addr3)
	p3.membership.Add("P1", addr1)
	p3.membership.Add("P2", addr2)

	require.NoError(t, p2.node.Write("c.txt", []byte("DATA"), filestore.Overwrite))

	for _, h := range []*harness{p1, p2, p3} {
		data, err := h.node.Read("c.txt")
		require.NoError(t, err)
		assert.Equal(t, "DATA", string(data))
	}
}

func TestLockAcquireMajoritySucceedsWithOneDenial(t *testing.T) {
	p1 := newHarness(t, "P1", false)
	p2 := newHarness(t, "P2", false)
	p3 := newHarness(t, "P3", false)

	addr1 := p1.listenAndServe(t)
	addr2 := p2.listenAndServe(t)
	addr3 := p3.listenAndServe(t)
	defer p1.server.Close()
	defer p2.server.Close()
	defer p3.server.Close()

	p1.membership.Add("P2", addr2)
	p1.membership.Add("P3", addr3)
	p2.membership.Add("P1", addr1)
	p3.membership.Add("P1", addr1)

	// P3 already holds the lock on r1 locally, so it will deny; majority
	// (self + P2) out of 3 participants (need 2) is still enough.
	p3.node.locks.HandleLockRequest("r1", "someone-else", 999)

	epoch, granted, err := p1.node.locks.Acquire("r1")
	require.NoError(t, err)
	assert.Greater(t, epoch, uint64(0))
	assert.Len(t, granted, 1)
	assert.Equal(t, "P2", granted[0].ID)

	p1.node.locks.Release("r1", granted)
}

func TestLockAcquireUnanimityFailsWithOneDenial(t *testing.T) {
	p1 := newHarness(t, "P1", true)
	p2 := newHarness(t, "P2", true)
	p3 := newHarness(t, "P3", true)

	addr1 := p1.listenAndServe(t)
	addr2 := p2.listenAndServe(t)
	addr3 := p3.listenAndServe(t)
	defer p1.server.Close()
	defer p2.server.Close()
	defer p3.server.Close()

	p1.membership.Add("P2", addr2)
	p1.membership.Add("P3", addr3)
	p2.membership.Add("P1", addr1)
	p3.membership.Add("P1", addr1)

	p3.node.locks.HandleLockRequest("r1", "someone-else", 999)

	_, _, err := p1.node.locks.Acquire("r1")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.ConsensusFailure))
}

// Testable property #7: applying the same OPERATION_COMMIT twice leaves
// the peer in the same state as applying it once.
func TestApplyRemoteCommitIdempotent(t *testing.T) {
	h := newHarness(t, "P1", false)

	require.NoError(t, h.node.applyRemoteCommit("x.txt", "V1", 1))
	require.NoError(t, h.node.applyRemoteCommit("x.txt", "V1", 1))

	data, err := h.node.Read("x.txt")
	require.NoError(t, err)
	assert.Equal(t, "V1", string(data))
}

func TestApplyRemoteCommitRejectsStaleEpoch(t *testing.T) {
	h := newHarness(t, "P1", false)

	require.NoError(t, h.node.applyRemoteCommit("x.txt", "V2", 5))
	err := h.node.applyRemoteCommit("x.txt", "V1", 2)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.ConsensusFailure))

	data, err := h.node.Read("x.txt")
	require.NoError(t, err)
	assert.Equal(t, "V2", string(data))
}

func TestFanOutZeroPeersAlwaysSucceeds(t *testing.T) {
	h := newHarness(t, "P1", false)
	require.NoError(t, h.node.Write("solo.txt", []byte("X"), filestore.Overwrite))
}

func TestHealthMonitorEvictsUnresponsivePeer(t *testing.T) {
	p1 := newHarness(t, "P1", false)
	p1.membership.Add("ghost", "127.0.0.1:1") // nothing listens here

	transport := NewTransport(50 * time.Millisecond)
	hm := NewHealthMonitor(p1.node, p1.membership, transport, 10*time.Millisecond, 50*time.Millisecond, zerolog.Nop())
	hm.Start()
	defer hm.Stop()

	require.Eventually(t, func() bool {
		_, ok := p1.membership.Get("ghost")
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}
