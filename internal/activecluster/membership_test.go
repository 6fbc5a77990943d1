package activecluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMembershipAddGetRemove(t *testing.T) {
	m := NewMembership("self", nil)
	m.Add("p1", "127.0.0.1:9001")

	p, ok := m.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:9001", p.Address)
	assert.Equal(t, initialHealthScore, p.HealthScore)
	assert.Equal(t, 1, m.Count())

	m.Remove("p1")
	_, ok = m.Get("p1")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Count())
}

func TestPenalizeMissedHeartbeatEvictsAtFloor(t *testing.T) {
	m := NewMembership("self", nil)
	m.Add("p1", "127.0.0.1:9001")

	evict := m.PenalizeMissedHeartbeat("p1")
	assert.False(t, evict) // 100 -> 50

	evict = m.PenalizeMissedHeartbeat("p1")
	assert.False(t, evict) // 50 -> 25

	evict = m.PenalizeMissedHeartbeat("p1")
	assert.False(t, evict) // 25 -> 12

	for !evict {
		evict = m.PenalizeMissedHeartbeat("p1")
	}

	p, _ := m.Get("p1")
	assert.Equal(t, minHealthScore, p.HealthScore)
}

func TestMarkHeartbeatResetsHealth(t *testing.T) {
	m := NewMembership("self", nil)
	m.Add("p1", "127.0.0.1:9001")
	m.PenalizeMissedHeartbeat("p1")

	m.MarkHeartbeat("p1")
	p, _ := m.Get("p1")
	assert.Equal(t, initialHealthScore, p.HealthScore)
}
