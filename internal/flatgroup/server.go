package flatgroup

import (
	"bufio"
	"net"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/kduvra/filerepo/internal/faultinjector"
)

// InternalServer accepts the FlatGroupCoordinator's peer-to-peer
// traffic: VOTE_REQUEST, JOIN, LEAVE, FORWARD_REQUEST. Grounded on the
// teacher's cmd/server/main.go listener-loop shape, generalized to the
// colon-delimited flat-group protocol instead of HTTP routing.
type InternalServer struct {
	addr        string
	coordinator *Coordinator
	membership  *Membership
	injector    *faultinjector.Injector
	log         zerolog.Logger

	listener net.Listener
	stopCh   chan struct{}
}

func NewInternalServer(addr string, coordinator *Coordinator, membership *Membership, injector *faultinjector.Injector, log zerolog.Logger) *InternalServer {
	return &InternalServer{
		addr:        addr,
		coordinator: coordinator,
		membership:  membership,
		injector:    injector,
		log:         log,
		stopCh:      make(chan struct{}),
	}
}

func (s *InternalServer) Serve() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln

	go s.coordinator.announceLoop(s.stopCh)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.listener == nil {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *InternalServer) Close() error {
	close(s.stopCh)
	ln := s.listener
	s.listener = nil
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (s *InternalServer) handleConn(conn net.Conn) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	msg, err := Decode(trimNewline(line))
	if err != nil {
		return
	}

	switch msg.Kind {
	case MsgVoteRequest:
		outcome, vote := s.injector.ProcessRequest(s.coordinator.self.ID, msg.Request)
		if outcome == faultinjector.OutcomeDropped {
			return // no reply: the injected fault drops this vote entirely
		}
		reply := Encode(Msg{Kind: MsgVote, MemberID: s.coordinator.self.ID, Request: msg.Request, Vote: vote}) + "\n"
		conn.Write([]byte(reply))

	case MsgJoin:
		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		internalAddr := net.JoinHostPort(host, msg.Port)
		s.membership.Upsert(Member{ID: msg.MemberID, InternalAddr: internalAddr})

	case MsgLeave:
		s.membership.Leave(msg.MemberID)

	case MsgForwardRequest:
		decision := s.coordinator.RunConsensusRound(msg.Request)
		conn.Write([]byte(decision + "\n"))
	}
}

// ClientServer accepts plain-text client requests on the group's
// client-facing port and relays the coordinator's decision back
// verbatim (spec.md §4.4: "Clients hit any client port with a textual
// request").
type ClientServer struct {
	addr        string
	coordinator *Coordinator
	listener    net.Listener
}

func NewClientServer(addr string, coordinator *Coordinator) *ClientServer {
	return &ClientServer{addr: addr, coordinator: coordinator}
}

func (s *ClientServer) Serve() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.listener == nil {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *ClientServer) Close() error {
	ln := s.listener
	s.listener = nil
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (s *ClientServer) handleConn(conn net.Conn) {
	defer conn.Close()
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	req := trimNewline(line)
	decision := s.coordinator.Dispatch(req)
	conn.Write([]byte(decision + "\n"))
}

// Port extracts the numeric port from a host:port address, used when
// announcing self over JOIN.
func Port(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}
