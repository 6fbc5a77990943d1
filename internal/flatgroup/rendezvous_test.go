package flatgroup

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Testable property #2: every reachable node computes the same
// leader(r) given identical membership sets.
func TestLeaderDeterministicAcrossNodes(t *testing.T) {
	ids := []string{"p3", "p1", "p2", "p5", "p4"}
	sort.Strings(ids)

	l1 := Leader(sortedCopy(ids), "REQ_1")
	l2 := Leader(sortedCopy(ids), "REQ_1")
	assert.Equal(t, l1, l2)
	assert.Contains(t, ids, l1)
}

func TestLeaderEmptyMembership(t *testing.T) {
	assert.Equal(t, "", Leader(nil, "x"))
}

func sortedCopy(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}
