package flatgroup

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kduvra/filerepo/internal/faultinjector"
)

// ErrInsufficientMembers is the sentinel spec.md §4.4 step 1 returns
// when a consensus round is attempted with group size below 3.
const ErrInsufficientMembers = "ERROR_INSUFFICIENT_MEMBERS"

// ErrForwardFailed is returned to a client when forwarding a request
// to the computed leader's internal port fails outright (spec.md S5).
const ErrForwardFailed = "ERROR_FORWARD_FAILED"

// Coordinator implements spec.md §4.4's request dispatch and consensus
// round. There is no teacher equivalent of a leaderless quorum
// dispatcher; this type is grounded on the teacher's
// executeReadQuorum/executeWriteQuorum shape (internal/cluster/node.go)
// generalized from "fan out, count acks against a fixed quorum size"
// to "fan out, tally normalized vote classes, decide on first class to
// cross threshold."
type Coordinator struct {
	self       Member
	membership *Membership
	injector   *faultinjector.Injector
	log        zerolog.Logger

	voteTimeout    time.Duration
	dialTimeout    time.Duration
	forwardTimeout time.Duration

	mu           sync.Mutex
	activeRounds map[string]*ConsensusRound
}

func NewCoordinator(self Member, membership *Membership, injector *faultinjector.Injector, voteTimeout, dialTimeout, forwardTimeout time.Duration, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		self:           self,
		membership:     membership,
		injector:       injector,
		log:            log,
		voteTimeout:    voteTimeout,
		dialTimeout:    dialTimeout,
		forwardTimeout: forwardTimeout,
		activeRounds:   make(map[string]*ConsensusRound),
	}
}

// Dispatch implements spec.md §4.4's "request dispatch": if self is
// the rendezvous-hashed leader for req, run a consensus round;
// otherwise forward to the leader's internal port and relay its
// decision verbatim.
func (c *Coordinator) Dispatch(req string) string {
	sortedIDs := c.membership.SortedIDs()
	if len(sortedIDs) < 3 {
		return ErrInsufficientMembers
	}

	leaderID := Leader(sortedIDs, req)
	if leaderID == c.self.ID {
		return c.RunConsensusRound(req)
	}

	leader, ok := c.membership.Get(leaderID)
	if !ok {
		return ErrForwardFailed
	}
	return c.forwardToLeader(leader, req)
}

// RunConsensusRound implements spec.md §4.4's consensus round: the
// coordinator's own vote is sampled exactly once (resolving the open
// question in spec.md §9 about the leader's processRequest being
// invoked twice — this implementation invokes it a single time and
// folds the result directly into the round instead of also routing it
// through a broadcast-to-self), and peers are queried concurrently.
func (c *Coordinator) RunConsensusRound(req string) string {
	members := c.membership.All()
	round := NewConsensusRound(req, len(members))

	c.mu.Lock()
	c.activeRounds[req] = round
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.activeRounds, req)
		c.mu.Unlock()
	}()

	outcome, ownVote := c.injector.ProcessRequest(c.self.ID, req)
	if outcome != faultinjector.OutcomeDropped {
		round.RecordVote(ownVote)
	}

	for _, m := range members {
		if m.ID == c.self.ID {
			continue
		}
		go c.requestVote(m, req, round)
	}

	return round.Await(c.voteTimeout)
}

// requestVote dials a peer's internal port, sends VOTE_REQUEST, and
// records whatever VOTE reply comes back (or nothing, if the peer's
// injected fault dropped the vote — spec.md §4.4 step 4).
func (c *Coordinator) requestVote(peer Member, req string, round *ConsensusRound) {
	conn, err := net.DialTimeout("tcp", peer.InternalAddr, c.dialTimeout)
	if err != nil {
		c.log.Debug().Err(err).Str("peer", peer.ID).Msg("vote request dial failed")
		return
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.voteTimeout))
	line := Encode(Msg{Kind: MsgVoteRequest, MemberID: c.self.ID, Request: req}) + "\n"
	if _, err := conn.Write([]byte(line)); err != nil {
		return
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return // peer dropped the vote or closed without replying
	}

	msg, err := Decode(trimNewline(reply))
	if err != nil || msg.Kind != MsgVote {
		return
	}
	round.RecordVote(msg.Vote)
}

// forwardToLeader relays req to the leader's internal port and waits
// up to forwardTimeout for its decision line.
func (c *Coordinator) forwardToLeader(leader Member, req string) string {
	conn, err := net.DialTimeout("tcp", leader.InternalAddr, c.dialTimeout)
	if err != nil {
		return ErrForwardFailed
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.forwardTimeout))
	line := Encode(Msg{Kind: MsgForwardRequest, Request: req}) + "\n"
	if _, err := conn.Write([]byte(line)); err != nil {
		return ErrForwardFailed
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return ErrForwardFailed
	}
	return trimNewline(reply)
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// Bootstrap attempts to connect to every bootstrap peer address with
// up to 3 attempts, 200ms apart, sending JOIN(self_id, internal_port)
// on success — spec.md §4.4's bootstrap protocol.
func (c *Coordinator) Bootstrap(bootstrapAddrs []string) {
	_, portStr, _ := net.SplitHostPort(c.self.InternalAddr)

	for _, addr := range bootstrapAddrs {
		var conn net.Conn
		var err error
		for attempt := 0; attempt < 3; attempt++ {
			conn, err = net.DialTimeout("tcp", addr, c.dialTimeout)
			if err == nil {
				break
			}
			time.Sleep(200 * time.Millisecond)
		}
		if err != nil {
			c.log.Warn().Str("peer", addr).Err(err).Msg("bootstrap join failed")
			continue
		}

		line := Encode(Msg{Kind: MsgJoin, MemberID: c.self.ID, Port: portStr}) + "\n"
		conn.Write([]byte(line))
		conn.Close()
	}
}

// announceLoop broadcasts a JOIN beacon to every known member every 3s
// as spec.md §4.4 requires, serving as the liveness mechanism in place
// of a gossip failure detector.
func (c *Coordinator) announceLoop(stopCh <-chan struct{}) {
	_, portStr, _ := net.SplitHostPort(c.self.InternalAddr)
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			for _, m := range c.membership.All() {
				if m.ID == c.self.ID {
					continue
				}
				conn, err := net.DialTimeout("tcp", m.InternalAddr, c.dialTimeout)
				if err != nil {
					continue
				}
				line := Encode(Msg{Kind: MsgJoin, MemberID: c.self.ID, Port: portStr}) + "\n"
				conn.Write([]byte(line))
				conn.Close()
			}
		}
	}
}

// announceOnce is exposed for tests that want to trigger a single
// beacon round without waiting on the 3s ticker.
func (c *Coordinator) announceOnce() {
	_, portStr, _ := net.SplitHostPort(c.self.InternalAddr)
	for _, m := range c.membership.All() {
		if m.ID == c.self.ID {
			continue
		}
		conn, err := net.DialTimeout("tcp", m.InternalAddr, c.dialTimeout)
		if err != nil {
			continue
		}
		line := Encode(Msg{Kind: MsgJoin, MemberID: c.self.ID, Port: portStr}) + "\n"
		conn.Write([]byte(line))
		conn.Close()
	}
}

// Leave broadcasts LEAVE(self_id) to every known member, per spec.md
// §4.4's stop protocol.
func (c *Coordinator) Leave() {
	for _, m := range c.membership.All() {
		if m.ID == c.self.ID {
			continue
		}
		conn, err := net.DialTimeout("tcp", m.InternalAddr, c.dialTimeout)
		if err != nil {
			continue
		}
		line := Encode(Msg{Kind: MsgLeave, MemberID: c.self.ID}) + "\n"
		conn.Write([]byte(line))
		conn.Close()
	}
}

