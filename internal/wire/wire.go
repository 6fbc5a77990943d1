// Package wire implements the line-oriented, pipe-delimited message
// format shared by ReplicationEngine's legacy protocol and
// ActiveCluster's lock/commit protocol (spec.md §6). Each message is a
// single newline-terminated text line:
//
//	COMMAND|FILENAME|CONTENT|TIMESTAMP|CLIENT_ID
//
// FlatGroupCoordinator's human-readable framing (VOTE_REQUEST:, VOTE:,
// JOIN:, LEAVE:, FORWARD_REQUEST:) is deliberately NOT built on top of
// this package — spec.md §6 calls it out as a different, non-pipe-framed
// format, so it is parsed directly in internal/flatgroup/protocol.go.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kduvra/filerepo/internal/apperror"
)

// Command is the verb of a wire message, spec.md §6's "Command set".
type Command string

const (
	CmdWrite  Command = "WRITE"
	CmdRead   Command = "READ"
	CmdDelete Command = "DELETE"
	CmdList   Command = "LIST"

	CmdSuccess  Command = "SUCCESS"
	CmdError    Command = "ERROR"
	CmdNotFound Command = "NOT_FOUND"

	CmdReplicate         Command = "REPLICATE"
	CmdSyncRequest       Command = "SYNC_REQUEST"
	CmdSyncFile          Command = "SYNC_FILE"
	CmdSyncDelete        Command = "SYNC_DELETE"
	CmdSyncStateRequest  Command = "SYNC_STATE_REQUEST"
	CmdSyncStateResponse Command = "SYNC_STATE_RESPONSE"
	CmdBackupReady       Command = "BACKUP_READY"
	CmdHeartbeat         Command = "HEARTBEAT"

	CmdLockRequest  Command = "LOCK_REQUEST"
	CmdLockGranted  Command = "LOCK_GRANTED"
	CmdLockDenied   Command = "LOCK_DENIED"
	CmdLockReleased Command = "LOCK_RELEASED"

	CmdOperationProposal  Command = "OPERATION_PROPOSAL"
	CmdOperationAccepted  Command = "OPERATION_ACCEPTED"
	CmdOperationRejected  Command = "OPERATION_REJECTED"
	CmdOperationCommit    Command = "OPERATION_COMMIT"
	CmdOperationCommitted Command = "OPERATION_COMMITTED"
	CmdOperationAbort     Command = "OPERATION_ABORT"
	CmdOperationFailed    Command = "OPERATION_FAILED"
)

// DeleteSentinel is the OPERATION_COMMIT content payload meaning
// "delete this file" (spec.md §4.3 fan-out semantics).
const DeleteSentinel = "DELETE:"

// Message is one parsed wire-protocol line.
type Message struct {
	Command   Command
	Filename  string
	Content   string
	Timestamp string
	ClientID  string
}

// Encode renders m as a single pipe-delimited line, escaping Content
// only (the other fields are assumed not to contain the delimiter).
// The newline terminator is NOT included; callers append it when
// writing to a stream so batching multiple Encode calls stays cheap.
func Encode(m Message) string {
	return strings.Join([]string{
		string(m.Command),
		m.Filename,
		escapeContent(m.Content),
		m.Timestamp,
		m.ClientID,
	}, "|")
}

// Decode parses a single line (without its trailing newline) into a
// Message. An empty field decodes to the empty string (spec.md §6:
// "An empty field encodes the absent value").
func Decode(line string) (Message, error) {
	fields, err := splitEscaped(line, 5)
	if err != nil {
		return Message{}, apperror.Wrap(apperror.ProtocolError, "malformed wire message", err)
	}
	return Message{
		Command:   Command(fields[0]),
		Filename:  fields[1],
		Content:   unescapeContent(fields[2]),
		Timestamp: fields[3],
		ClientID:  fields[4],
	}, nil
}

// WriteMessage encodes m and writes it, newline-terminated, to w.
func WriteMessage(w io.Writer, m Message) error {
	_, err := io.WriteString(w, Encode(m)+"\n")
	return err
}

// ReadMessage reads a single newline-terminated line from r and
// decodes it. io.EOF is returned unwrapped so callers can distinguish
// "connection closed" from a protocol error.
func ReadMessage(r *bufio.Reader) (Message, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return Message{}, err
	}
	line = strings.TrimRight(line, "\r\n")
	return Decode(line)
}

// escapeContent escapes the four reserved characters inside a CONTENT
// field, in the order spec.md §6 mandates for the reverse (decode)
// direction: \ → \\, | → \|, \n → \n-escape, \r → \r-escape. Escaping
// backslash first guarantees the escape sequences we introduce for the
// other three characters are not themselves re-escaped.
func escapeContent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '|':
			b.WriteString(`\|`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// unescapeContent reverses escapeContent. spec.md §6 mandates decode
// order: \n, \r, \|, then \\ — so that a literal "\\n" in the wire
// form (an escaped backslash followed by a bare "n") is not mistaken
// for an escaped newline. We implement that by scanning left to right
// and only ever consuming a recognized two-character escape once.
func unescapeContent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
			i++
		case 'r':
			b.WriteByte('\r')
			i++
		case '|':
			b.WriteByte('|')
			i++
		case '\\':
			b.WriteByte('\\')
			i++
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// splitEscaped splits line on unescaped '|' characters into exactly n
// fields. A '\' always escapes the following character for the
// purposes of delimiter detection, whether or not it forms one of the
// four recognized escapes — unescapeContent is applied separately by
// the caller to the CONTENT field only.
func splitEscaped(line string, n int) ([]string, error) {
	fields := make([]string, 0, n)
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		if escaped {
			cur.WriteByte(c)
			escaped = false
			continue
		}
		switch c {
		case '\\':
			cur.WriteByte(c)
			escaped = true
		case '|':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	fields = append(fields, cur.String())

	if len(fields) != n {
		return nil, fmt.Errorf("expected %d fields, got %d", n, len(fields))
	}
	return fields, nil
}

// FormatTimestamp renders an epoch-millis timestamp the way the
// TIMESTAMP field expects it.
func FormatTimestamp(epochMillis int64) string {
	return strconv.FormatInt(epochMillis, 10)
}

// ParseTimestamp parses a TIMESTAMP field back into epoch-millis. An
// empty field parses to zero, matching "absent value" semantics.
func ParseTimestamp(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
