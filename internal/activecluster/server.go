package activecluster

import (
	"bufio"
	"io"
	"net"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/kduvra/filerepo/internal/filestore"
	"github.com/kduvra/filerepo/internal/wire"
)

// Server is the inbound half of ActiveCluster's peer protocol: it
// listens for LOCK_REQUEST/LOCK_RELEASED/OPERATION_COMMIT/HEARTBEAT
// lines from other nodes and dispatches them to the Node that owns
// local state. Grounded on the teacher's cmd/server/main.go listener
// loop, generalized from HTTP mux routing to the raw wire-protocol
// line dispatch spec.md §6 requires for cluster-internal traffic.
type Server struct {
	addr string
	node *Node
	log  zerolog.Logger

	listener net.Listener
}

func NewServer(addr string, node *Node, log zerolog.Logger) *Server {
	return &Server{addr: addr, node: node, log: log}
}

// Serve binds addr and accepts connections until Close is called.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.listener == nil {
				return nil // closed deliberately
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() error {
	ln := s.listener
	s.listener = nil
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	for {
		msg, err := wire.ReadMessage(r)
		if err != nil {
			if err != io.EOF {
				s.log.Debug().Err(err).Msg("peer connection read failed")
			}
			return
		}

		reply, keepOpen := s.dispatch(msg)
		if reply != nil {
			if err := wire.WriteMessage(conn, *reply); err != nil {
				return
			}
		}
		if !keepOpen {
			return
		}
	}
}

// dispatch applies one inbound message to local node state and
// returns the reply to send back, if any, and whether the connection
// should be kept open for further messages (pooled connections stay
// open; fire-and-forget senders may close immediately after).
func (s *Server) dispatch(msg wire.Message) (*wire.Message, bool) {
	switch msg.Command {
	case wire.CmdLockRequest:
		epoch, _ := strconv.ParseUint(msg.Timestamp, 10, 64)
		granted := s.node.locks.HandleLockRequest(msg.Filename, msg.ClientID, epoch)
		cmd := wire.CmdLockDenied
		if granted {
			cmd = wire.CmdLockGranted
		}
		return &wire.Message{Command: cmd, Filename: msg.Filename}, true

	case wire.CmdLockReleased:
		s.node.locks.HandleLockReleased(msg.Filename, msg.ClientID)
		return nil, true

	case wire.CmdOperationCommit:
		epoch, _ := strconv.ParseUint(msg.Timestamp, 10, 64)
		err := s.node.applyRemoteCommit(msg.Filename, msg.Content, epoch)
		if err != nil {
			return &wire.Message{Command: wire.CmdOperationFailed, Filename: msg.Filename, Content: err.Error()}, true
		}
		return &wire.Message{Command: wire.CmdOperationCommitted, Filename: msg.Filename}, true

	case wire.CmdHeartbeat:
		s.node.membership.MarkHeartbeat(msg.ClientID)
		return &wire.Message{Command: wire.CmdSuccess}, true

	case wire.CmdSyncRequest:
		return s.node.handleSyncRequest(msg)

	case wire.CmdRead:
		data, err := s.node.Read(msg.Filename)
		if err != nil {
			return &wire.Message{Command: wire.CmdNotFound, Filename: msg.Filename}, true
		}
		return &wire.Message{Command: wire.CmdSuccess, Filename: msg.Filename, Content: string(data)}, true

	case wire.CmdWrite:
		if err := s.node.Write(msg.Filename, []byte(msg.Content), filestore.Overwrite); err != nil {
			return &wire.Message{Command: wire.CmdError, Filename: msg.Filename, Content: err.Error()}, true
		}
		return &wire.Message{Command: wire.CmdSuccess, Filename: msg.Filename}, true

	case wire.CmdDelete:
		if err := s.node.Delete(msg.Filename); err != nil {
			return &wire.Message{Command: wire.CmdError, Filename: msg.Filename, Content: err.Error()}, true
		}
		return &wire.Message{Command: wire.CmdSuccess, Filename: msg.Filename}, true

	case wire.CmdList:
		files, err := s.node.List()
		if err != nil {
			return &wire.Message{Command: wire.CmdError, Content: err.Error()}, true
		}
		names := make([]string, 0, len(files))
		for _, f := range files {
			names = append(names, f.Name)
		}
		return &wire.Message{Command: wire.CmdSuccess, Content: joinNames(names)}, true

	default:
		return &wire.Message{Command: wire.CmdError, Content: "unknown command"}, true
	}
}
