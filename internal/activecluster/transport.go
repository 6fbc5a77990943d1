package activecluster

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/kduvra/filerepo/internal/apperror"
	"github.com/kduvra/filerepo/internal/wire"
)

// connPool is a small, bounded pool of persistent connections to one
// peer, with lease/return discipline: on I/O error the caller
// discards the connection instead of returning it (spec.md §5).
type connPool struct {
	addr    string
	timeout time.Duration

	mu    sync.Mutex
	conns []net.Conn
	max   int
}

func newConnPool(addr string, timeout time.Duration, max int) *connPool {
	if max <= 0 {
		max = 3
	}
	return &connPool{addr: addr, timeout: timeout, max: max}
}

func (p *connPool) lease() (net.Conn, error) {
	p.mu.Lock()
	if n := len(p.conns); n > 0 {
		c := p.conns[n-1]
		p.conns = p.conns[:n-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	conn, err := net.DialTimeout("tcp", p.addr, p.timeout)
	if err != nil {
		return nil, apperror.Wrap(apperror.PeerUnreachable, p.addr, err)
	}
	return conn, nil
}

func (p *connPool) returnConn(c net.Conn, broken bool) {
	if broken || c == nil {
		if c != nil {
			c.Close()
		}
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) >= p.max {
		c.Close()
		return
	}
	p.conns = append(p.conns, c)
}

func (p *connPool) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		c.Close()
	}
	p.conns = nil
}

// Transport sends wire-protocol requests to peer nodes and waits for a
// single line reply, reusing pooled connections per peer address.
type Transport struct {
	timeout time.Duration

	mu    sync.Mutex
	pools map[string]*connPool
}

func NewTransport(timeout time.Duration) *Transport {
	return &Transport{timeout: timeout, pools: make(map[string]*connPool)}
}

func (t *Transport) poolFor(addr string) *connPool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pools[addr]
	if !ok {
		p = newConnPool(addr, t.timeout, 3)
		t.pools[addr] = p
	}
	return p
}

// Send delivers msg to addr and returns the peer's single-line reply.
func (t *Transport) Send(addr string, msg wire.Message, timeout time.Duration) (wire.Message, error) {
	pool := t.poolFor(addr)
	conn, err := pool.lease()
	if err != nil {
		return wire.Message{}, err
	}

	conn.SetDeadline(time.Now().Add(timeout))
	if err := wire.WriteMessage(conn, msg); err != nil {
		pool.returnConn(conn, true)
		return wire.Message{}, apperror.Wrap(apperror.PeerUnreachable, addr, err)
	}

	reply, err := wire.ReadMessage(bufio.NewReader(conn))
	if err != nil {
		pool.returnConn(conn, true)
		return wire.Message{}, apperror.Wrap(apperror.PeerUnreachable, addr, err)
	}

	conn.SetDeadline(time.Time{})
	pool.returnConn(conn, false)
	return reply, nil
}

// SendFireAndForget delivers msg without waiting for a reply (used for
// LOCK_RELEASED, which spec.md §4.3 says requires no ack).
func (t *Transport) SendFireAndForget(addr string, msg wire.Message) {
	pool := t.poolFor(addr)
	conn, err := pool.lease()
	if err != nil {
		return
	}
	conn.SetDeadline(time.Now().Add(t.timeout))
	if err := wire.WriteMessage(conn, msg); err != nil {
		pool.returnConn(conn, true)
		return
	}
	conn.SetDeadline(time.Time{})
	pool.returnConn(conn, false)
}

// Close releases every pooled connection.
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pools {
		p.closeAll()
	}
}
