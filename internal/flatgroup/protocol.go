package flatgroup

import (
	"strings"

	"github.com/kduvra/filerepo/internal/apperror"
)

// MsgKind is the verb of a flat-group protocol line. Unlike
// internal/wire's pipe-delimited framing, spec.md §6 specifies this
// protocol as human-readable and colon-delimited — deliberately a
// different format, so it gets its own small parser instead of being
// bolted onto wire.Decode.
type MsgKind int

const (
	MsgVoteRequest MsgKind = iota
	MsgVote
	MsgJoin
	MsgLeave
	MsgForwardRequest
)

// Msg is one parsed flat-group protocol line.
type Msg struct {
	Kind MsgKind

	// VOTE_REQUEST / VOTE / JOIN
	MemberID string
	// VOTE_REQUEST / VOTE / FORWARD_REQUEST
	Request string
	// VOTE
	Vote string
	// JOIN
	Port string
}

// Encode renders msg back into its wire form, per spec.md §6:
//
//	VOTE_REQUEST:<id>:<req>
//	VOTE:<voter>:<req>|<vote>
//	JOIN:<id>:<port>
//	LEAVE:<id>
//	FORWARD_REQUEST:<req>
func Encode(m Msg) string {
	switch m.Kind {
	case MsgVoteRequest:
		return "VOTE_REQUEST:" + m.MemberID + ":" + m.Request
	case MsgVote:
		return "VOTE:" + m.MemberID + ":" + m.Request + "|" + m.Vote
	case MsgJoin:
		return "JOIN:" + m.MemberID + ":" + m.Port
	case MsgLeave:
		return "LEAVE:" + m.MemberID
	case MsgForwardRequest:
		return "FORWARD_REQUEST:" + m.Request
	default:
		return ""
	}
}

// Decode parses a single line (without trailing newline) of the
// flat-group protocol.
func Decode(line string) (Msg, error) {
	switch {
	case strings.HasPrefix(line, "VOTE_REQUEST:"):
		rest := strings.TrimPrefix(line, "VOTE_REQUEST:")
		id, req, ok := cut(rest, ":")
		if !ok {
			return Msg{}, apperror.New(apperror.ProtocolError, "malformed VOTE_REQUEST")
		}
		return Msg{Kind: MsgVoteRequest, MemberID: id, Request: req}, nil

	case strings.HasPrefix(line, "VOTE:"):
		rest := strings.TrimPrefix(line, "VOTE:")
		voter, tail, ok := cut(rest, ":")
		if !ok {
			return Msg{}, apperror.New(apperror.ProtocolError, "malformed VOTE")
		}
		req, vote, ok := cut(tail, "|")
		if !ok {
			return Msg{}, apperror.New(apperror.ProtocolError, "malformed VOTE payload")
		}
		return Msg{Kind: MsgVote, MemberID: voter, Request: req, Vote: vote}, nil

	case strings.HasPrefix(line, "JOIN:"):
		rest := strings.TrimPrefix(line, "JOIN:")
		id, port, ok := cut(rest, ":")
		if !ok {
			return Msg{}, apperror.New(apperror.ProtocolError, "malformed JOIN")
		}
		return Msg{Kind: MsgJoin, MemberID: id, Port: port}, nil

	case strings.HasPrefix(line, "LEAVE:"):
		id := strings.TrimPrefix(line, "LEAVE:")
		return Msg{Kind: MsgLeave, MemberID: id}, nil

	case strings.HasPrefix(line, "FORWARD_REQUEST:"):
		req := strings.TrimPrefix(line, "FORWARD_REQUEST:")
		return Msg{Kind: MsgForwardRequest, Request: req}, nil

	default:
		return Msg{}, apperror.New(apperror.ProtocolError, "unrecognized flat-group message: "+line)
	}
}

func cut(s, sep string) (before, after string, found bool) {
	i := strings.Index(s, sep)
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+len(sep):], true
}

// NormalizeClass implements spec.md §4.4 step 5: any ACK_-prefixed
// vote collapses to class ACK_SUCCESS, any ERROR_-prefixed vote to
// ERROR_RESPONSE, anything else is its own class.
func NormalizeClass(rawVote string) string {
	switch {
	case strings.HasPrefix(rawVote, "ACK_"):
		return "ACK_SUCCESS"
	case strings.HasPrefix(rawVote, "ERROR_"):
		return "ERROR_RESPONSE"
	default:
		return rawVote
	}
}
