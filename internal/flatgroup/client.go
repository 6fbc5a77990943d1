package flatgroup

import (
	"bufio"
	"math/rand/v2"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/kduvra/filerepo/internal/apperror"
)

// Outcome buckets a Client.Send result the way spec.md §4.4's
// client-side failover classifies replies, for statistics purposes.
type Outcome string

const (
	OutcomeSuccess     Outcome = "SUCCESS"
	OutcomeError       Outcome = "ERROR_RESPONSE"
	OutcomeNoConsensus Outcome = "NO_CONSENSUS"
	OutcomeIncorrect   Outcome = "INCORRECT_RESPONSE"
	OutcomeConnFailed  Outcome = "CONNECTION_FAILED"
)

// classify maps a raw decision string from a client port to one of the
// outcome buckets spec.md §4.4 names.
func classify(decision string) Outcome {
	switch {
	case strings.HasPrefix(decision, "ACK_"):
		return OutcomeSuccess
	case strings.HasPrefix(decision, "NO_CONSENSUS"):
		return OutcomeNoConsensus
	case strings.HasPrefix(decision, "ERROR_FORWARD_FAILED"), strings.HasPrefix(decision, "ERROR_INSUFFICIENT_MEMBERS"):
		return OutcomeError
	case strings.HasPrefix(decision, "ERROR_"):
		return OutcomeIncorrect
	default:
		return OutcomeError
	}
}

// Stats tallies how many times the client observed each outcome,
// grounded on spec.md §4.4's "recording statistics per outcome."
type Stats struct {
	mu     sync.Mutex
	counts map[Outcome]int
}

func NewStats() *Stats {
	return &Stats{counts: make(map[Outcome]int)}
}

func (s *Stats) record(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[o]++
}

// Snapshot returns a copy of the current per-outcome counters.
func (s *Stats) Snapshot() map[Outcome]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Outcome]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// Client implements spec.md §4.4's client-side failover: it holds a
// list of known client ports, shuffles them per attempt, and returns
// the first non-connection-failure response.
type Client struct {
	clientAddrs []string
	dialTimeout time.Duration
	maxRetries  int
	stats       *Stats
}

func NewClient(clientAddrs []string, dialTimeout time.Duration, maxRetries int) *Client {
	return &Client{
		clientAddrs: clientAddrs,
		dialTimeout: dialTimeout,
		maxRetries:  maxRetries,
		stats:       NewStats(),
	}
}

// Stats exposes the accumulated per-outcome counters.
func (c *Client) Stats() *Stats { return c.stats }

// Send submits req, shuffling the known client ports and retrying
// against a different one on each connection failure, up to
// maxRetries attempts, per spec.md §4.4 and the S5 failover scenario.
func (c *Client) Send(req string) (string, Outcome) {
	order := shuffle(c.clientAddrs)

	attempts := c.maxRetries
	if attempts <= 0 || attempts > len(order) {
		attempts = len(order)
	}

	var lastOutcome Outcome = OutcomeConnFailed
	for i := 0; i < attempts; i++ {
		addr := order[i]
		decision, err := c.sendOne(addr, req)
		if err != nil {
			lastOutcome = OutcomeConnFailed
			continue
		}
		outcome := classify(decision)
		c.stats.record(outcome)
		return decision, outcome
	}

	c.stats.record(lastOutcome)
	return "", lastOutcome
}

func (c *Client) sendOne(addr, req string) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, c.dialTimeout)
	if err != nil {
		return "", apperror.Wrap(apperror.PeerUnreachable, addr, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.dialTimeout))
	if _, err := conn.Write([]byte(req + "\n")); err != nil {
		return "", apperror.Wrap(apperror.PeerUnreachable, addr, err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", apperror.Wrap(apperror.PeerUnreachable, addr, err)
	}
	return trimNewline(line), nil
}

func shuffle(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
