package wire

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeRoundTrip(t *testing.T) {
	// S6 from spec.md §8: A|B\nC\\D round-trips through the wire form.
	content := "A|B\nC\\D"
	encoded := escapeContent(content)
	assert.Equal(t, `A\|B\nC\\D`, encoded)
	assert.Equal(t, content, unescapeContent(encoded))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := Message{
		Command:   CmdWrite,
		Filename:  "notes.txt",
		Content:   "line one\nline two | pipe \\ backslash",
		Timestamp: "1700000000000",
		ClientID:  "client-7",
	}
	line := Encode(msg)
	got, err := Decode(line)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestDecodeEmptyFields(t *testing.T) {
	got, err := Decode("READ|foo.txt|||")
	require.NoError(t, err)
	assert.Equal(t, Message{Command: CmdRead, Filename: "foo.txt"}, got)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode("WRITE|only-two-fields")
	assert.Error(t, err)
}

func TestReadWriteMessageStream(t *testing.T) {
	var sb strings.Builder
	msgs := []Message{
		{Command: CmdLockRequest, Filename: "a.txt", ClientID: "p1"},
		{Command: CmdOperationCommit, Filename: "a.txt", Content: DeleteSentinel},
	}
	for _, m := range msgs {
		require.NoError(t, WriteMessage(&sb, m))
	}

	r := bufio.NewReader(strings.NewReader(sb.String()))
	for _, want := range msgs {
		got, err := ReadMessage(r)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	ts, err := ParseTimestamp(FormatTimestamp(1700000000000))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), ts)

	zero, err := ParseTimestamp("")
	require.NoError(t, err)
	assert.Equal(t, int64(0), zero)
}
