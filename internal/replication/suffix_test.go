package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppendInvalidSuffix(t *testing.T) {
	assert.Equal(t, "foo_invalid.txt", appendInvalidSuffix("foo.txt"))
	assert.Equal(t, "foo_invalid", appendInvalidSuffix("foo"))
}

// Testable property #6: strip_invalid_suffix(append_invalid_suffix(x)) == x.
func TestSuffixRoundTrip(t *testing.T) {
	for _, name := range []string{"foo.txt", "foo", "a.b.c.txt", "noext"} {
		assert.Equal(t, name, stripInvalidSuffix(appendInvalidSuffix(name)))
	}
}

func TestIsInvalidMarker(t *testing.T) {
	assert.True(t, isInvalidMarker("foo_invalid.txt"))
	assert.False(t, isInvalidMarker("foo.txt"))
}
