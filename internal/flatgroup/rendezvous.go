package flatgroup

import (
	"crypto/sha256"
	"encoding/binary"
)

// hashRequest maps req onto a 32-bit space using the same "first four
// bytes of sha256" scheme the teacher's Ring.hash uses for ring
// positions — reused here without virtual nodes, directly against a
// sorted membership list, per spec.md §4.4's rendezvous formula.
func hashRequest(req string) uint32 {
	h := sha256.Sum256([]byte(req))
	return binary.BigEndian.Uint32(h[:4])
}

// Leader computes the unique coordinator for req given a sorted member
// id list: leader_index = |hash(req)| mod len(sortedIDs). Every node
// that has the same membership snapshot computes the same leader
// (Testable property #2), since sortedIDs is deterministic given the
// same member set.
func Leader(sortedIDs []string, req string) string {
	if len(sortedIDs) == 0 {
		return ""
	}
	idx := int(hashRequest(req) % uint32(len(sortedIDs)))
	return sortedIDs[idx]
}
