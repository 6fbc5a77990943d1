package flatgroup

import (
	"fmt"
	"sync"
	"time"
)

// ConsensusRound is spec.md §3's ConsensusRound: a per-request tally
// over normalized vote classes, created when the coordinator starts a
// round and destroyed on decision or timeout.
type ConsensusRound struct {
	Request       string
	RequiredVotes int
	GroupSize     int

	mu            sync.Mutex
	tally         map[string]int
	firstRaw      map[string]string
	votesReceived int
	decided       bool

	doneCh chan string // winning raw vote, or "" if the round was abandoned
}

// NewConsensusRound creates a round requiring ⌊N/2⌋+1 votes out of
// groupSize, per spec.md §4.4 step 2.
func NewConsensusRound(request string, groupSize int) *ConsensusRound {
	return &ConsensusRound{
		Request:       request,
		RequiredVotes: groupSize/2 + 1,
		GroupSize:     groupSize,
		tally:         make(map[string]int),
		firstRaw:      make(map[string]string),
		doneCh:        make(chan string, 1),
	}
}

// RecordVote tallies one raw vote. It returns true if this vote caused
// the round to reach a decision (the caller should stop waiting for
// more; the winning raw vote is delivered through Await).
func (c *ConsensusRound) RecordVote(rawVote string) (decided bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.decided {
		return false
	}

	c.votesReceived++
	class := NormalizeClass(rawVote)
	c.tally[class]++
	if _, ok := c.firstRaw[class]; !ok {
		c.firstRaw[class] = rawVote
	}

	if c.tally[class] >= c.RequiredVotes {
		c.decided = true
		c.doneCh <- c.firstRaw[class]
		return true
	}
	return false
}

// VotesReceived reports how many votes have been tallied so far
// (used to compose the NO_CONSENSUS_<k>_OF_<N> outcome string).
func (c *ConsensusRound) VotesReceived() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.votesReceived
}

// Await blocks until the round decides or timeout elapses, returning
// the winning raw vote, or the NO_CONSENSUS_<k>_OF_<N> sentinel from
// spec.md §4.4 step 7 on timeout.
func (c *ConsensusRound) Await(timeout time.Duration) string {
	select {
	case winner := <-c.doneCh:
		return winner
	case <-time.After(timeout):
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.decided {
			// A winner landed between the timer firing and this lock
			// acquisition; prefer it over declaring no-consensus.
			select {
			case winner := <-c.doneCh:
				return winner
			default:
			}
		}
		c.decided = true
		return fmt.Sprintf("NO_CONSENSUS_%d_OF_%d", c.votesReceived, c.GroupSize)
	}
}
