package client

import (
	"bufio"
	"net"
	"time"

	"github.com/kduvra/filerepo/internal/apperror"
	"github.com/kduvra/filerepo/internal/wire"
)

// WireClient talks directly to an ActiveCluster node over its
// pipe-delimited wire protocol (internal/wire) — the TCP counterpart
// to Client's HTTP API, used when the caller wants to address a
// specific node rather than go through FileStore's HTTP surface,
// mirroring the teacher's pattern of a thin per-protocol client.
type WireClient struct {
	addr    string
	timeout time.Duration
}

// NewWireClient creates a WireClient dialing addr for every call.
func NewWireClient(addr string, timeout time.Duration) *WireClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WireClient{addr: addr, timeout: timeout}
}

func (w *WireClient) roundTrip(msg wire.Message) (wire.Message, error) {
	conn, err := net.DialTimeout("tcp", w.addr, w.timeout)
	if err != nil {
		return wire.Message{}, apperror.Wrap(apperror.PeerUnreachable, "dial "+w.addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(w.timeout)); err != nil {
		return wire.Message{}, apperror.Wrap(apperror.PeerUnreachable, "set deadline", err)
	}
	if err := wire.WriteMessage(conn, msg); err != nil {
		return wire.Message{}, apperror.Wrap(apperror.PeerUnreachable, "write request", err)
	}
	reply, err := wire.ReadMessage(bufio.NewReader(conn))
	if err != nil {
		return wire.Message{}, apperror.Wrap(apperror.PeerUnreachable, "read reply", err)
	}
	return reply, nil
}

// Write asks the node to perform a coordinated write of name.
func (w *WireClient) Write(name, content string) error {
	reply, err := w.roundTrip(wire.Message{Command: wire.CmdWrite, Filename: name, Content: content})
	if err != nil {
		return err
	}
	if reply.Command == wire.CmdError {
		return apperror.New(apperror.InvalidArgument, reply.Content)
	}
	return nil
}

// Read fetches name's content from the node.
func (w *WireClient) Read(name string) (string, error) {
	reply, err := w.roundTrip(wire.Message{Command: wire.CmdRead, Filename: name})
	if err != nil {
		return "", err
	}
	switch reply.Command {
	case wire.CmdNotFound:
		return "", apperror.New(apperror.NotFound, name)
	case wire.CmdError:
		return "", apperror.New(apperror.InvalidArgument, reply.Content)
	default:
		return reply.Content, nil
	}
}

// Delete asks the node to perform a coordinated delete of name.
func (w *WireClient) Delete(name string) error {
	reply, err := w.roundTrip(wire.Message{Command: wire.CmdDelete, Filename: name})
	if err != nil {
		return err
	}
	if reply.Command == wire.CmdError {
		return apperror.New(apperror.InvalidArgument, reply.Content)
	}
	return nil
}

// List fetches the node's local file catalogue as a comma-joined
// string of names, matching activecluster's joinNames wire encoding.
func (w *WireClient) List() (string, error) {
	reply, err := w.roundTrip(wire.Message{Command: wire.CmdList})
	if err != nil {
		return "", err
	}
	if reply.Command == wire.CmdError {
		return "", apperror.New(apperror.InvalidArgument, reply.Content)
	}
	return reply.Content, nil
}
