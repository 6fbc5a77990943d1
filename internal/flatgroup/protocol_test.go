package flatgroup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kduvra/filerepo/internal/apperror"
)

func TestProtocolRoundTrip(t *testing.T) {
	cases := []Msg{
		{Kind: MsgVoteRequest, MemberID: "p1", Request: "REQ_1"},
		{Kind: MsgVote, MemberID: "p2", Request: "REQ_1", Vote: "ACK_P2_REQ_1"},
		{Kind: MsgJoin, MemberID: "p3", Port: "9100"},
		{Kind: MsgLeave, MemberID: "p3"},
		{Kind: MsgForwardRequest, Request: "REQ_7"},
	}
	for _, c := range cases {
		line := Encode(c)
		got, err := Decode(line)
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
}

func TestNormalizeClass(t *testing.T) {
	assert.Equal(t, "ACK_SUCCESS", NormalizeClass("ACK_P1_REQ_1"))
	assert.Equal(t, "ERROR_RESPONSE", NormalizeClass("ERROR_P2_99"))
	assert.Equal(t, "WEIRD_VOTE", NormalizeClass("WEIRD_VOTE"))
}

func TestDecodeMalformedReturnsProtocolError(t *testing.T) {
	_, err := Decode("GARBAGE")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.ProtocolError))
}
