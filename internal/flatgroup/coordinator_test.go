package flatgroup

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kduvra/filerepo/internal/faultinjector"
)

type groupNode struct {
	member      Member
	membership  *Membership
	coordinator *Coordinator
	internal    *InternalServer
	client      *ClientServer
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func buildGroup(t *testing.T, n int, injector *faultinjector.Injector) []*groupNode {
	t.Helper()

	members := make([]Member, n)
	for i := 0; i < n; i++ {
		members[i] = Member{
			ID:           string(rune('A' + i)),
			InternalAddr: freeAddr(t),
			ClientAddr:   freeAddr(t),
		}
	}

	nodes := make([]*groupNode, n)
	for i, m := range members {
		membership := NewMembership(m)
		for _, other := range members {
			if other.ID != m.ID {
				membership.Upsert(other)
			}
		}
		if injector == nil {
			injector = faultinjector.New(faultinjector.Config{})
		}
		coord := NewCoordinator(m, membership, injector, time.Second, 200*time.Millisecond, time.Second, zerolog.Nop())
		nodes[i] = &groupNode{member: m, membership: membership, coordinator: coord}
	}

	for _, nd := range nodes {
		nd.internal = NewInternalServer(nd.member.InternalAddr, nd.coordinator, nd.membership, injector, zerolog.Nop())
		nd.client = NewClientServer(nd.member.ClientAddr, nd.coordinator)
		go nd.internal.Serve()
		go nd.client.Serve()
	}

	for _, nd := range nodes {
		waitDialable(t, nd.member.InternalAddr)
		waitDialable(t, nd.member.ClientAddr)
	}

	t.Cleanup(func() {
		for _, nd := range nodes {
			nd.internal.Close()
			nd.client.Close()
		}
	})

	return nodes
}

func waitDialable(t *testing.T, addr string) {
	t.Helper()
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, time.Second, 5*time.Millisecond)
}

// Testable property #10: with N = 2, a consensus round returns
// ERROR_INSUFFICIENT_MEMBERS.
func TestDispatchInsufficientMembers(t *testing.T) {
	nodes := buildGroup(t, 2, nil)
	decision := nodes[0].coordinator.Dispatch("REQ_X")
	assert.Equal(t, ErrInsufficientMembers, decision)
}

// S4-style dispatch across 5 members, run with a clean (no-fault)
// injector: the leader reaches ACK_SUCCESS.
func TestConsensusUnderNoFaultsReachesAck(t *testing.T) {
	nodes := buildGroup(t, 5, faultinjector.New(faultinjector.Config{}))

	sortedIDs := nodes[0].membership.SortedIDs()
	leaderID := Leader(sortedIDs, "REQ_1")

	var leaderNode *groupNode
	for _, nd := range nodes {
		if nd.member.ID == leaderID {
			leaderNode = nd
		}
	}
	require.NotNil(t, leaderNode)

	decision := leaderNode.coordinator.Dispatch("REQ_1")
	assert.Equal(t, OutcomeSuccess, classify(decision))
}

// A non-leader node forwards the request to the leader and relays the
// leader's decision.
func TestNonLeaderForwardsToLeader(t *testing.T) {
	nodes := buildGroup(t, 5, faultinjector.New(faultinjector.Config{}))

	sortedIDs := nodes[0].membership.SortedIDs()
	leaderID := Leader(sortedIDs, "REQ_9")

	var follower *groupNode
	for _, nd := range nodes {
		if nd.member.ID != leaderID {
			follower = nd
			break
		}
	}
	require.NotNil(t, follower)

	decision := follower.coordinator.Dispatch("REQ_9")
	assert.Equal(t, OutcomeSuccess, classify(decision))
}

func TestClientFailoverRetriesOnUnreachablePort(t *testing.T) {
	nodes := buildGroup(t, 5, faultinjector.New(faultinjector.Config{}))

	deadAddr := freeAddr(t) // nothing listens here anymore
	addrs := []string{deadAddr}
	for _, nd := range nodes {
		addrs = append(addrs, nd.member.ClientAddr)
	}

	client := NewClient(addrs, 200*time.Millisecond, len(addrs))
	decision, outcome := client.Send("REQ_FAILOVER")
	assert.NotEmpty(t, decision)
	assert.Equal(t, OutcomeSuccess, outcome)
}
