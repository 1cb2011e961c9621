package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresence_JoinLeave(t *testing.T) {
	p := NewPresence()

	prior, added := p.Join("c1", "alice")
	assert.Empty(t, prior)
	assert.True(t, added)

	prior, added = p.Join("c1", "bob")
	assert.Equal(t, []string{"alice"}, prior)
	assert.True(t, added)

	assert.Equal(t, []string{"alice", "bob"}, p.MembersOf("c1"))
	assert.True(t, p.IsPresent("c1", "bob"))

	assert.True(t, p.Leave("c1", "bob"))
	assert.False(t, p.IsPresent("c1", "bob"))
	assert.False(t, p.Leave("c1", "bob"), "leaving when absent is a no-op")
	assert.False(t, p.Leave("unknown", "alice"))
}

func TestPresence_MultipleTabs(t *testing.T) {
	p := NewPresence()

	_, added := p.Join("c1", "alice")
	assert.True(t, added)
	prior, added := p.Join("c1", "alice")
	assert.False(t, added)
	assert.Empty(t, prior, "the joiner is never in its own prior list")

	assert.False(t, p.Leave("c1", "alice"))
	assert.True(t, p.IsPresent("c1", "alice"))
	assert.True(t, p.Leave("c1", "alice"))
	assert.Empty(t, p.MembersOf("c1"))
	assert.Equal(t, 0, p.Stats())
}

func TestPresence_LeaveAll(t *testing.T) {
	p := NewPresence()
	p.Join("c2", "alice")
	p.Join("c1", "alice")
	p.Join("c1", "alice")
	p.Join("c1", "bob")

	assert.Equal(t, []string{"c1", "c2"}, p.LeaveAll("alice"))
	assert.Equal(t, []string{"bob"}, p.MembersOf("c1"))
	assert.Empty(t, p.MembersOf("c2"))
	assert.Equal(t, 1, p.Stats())
	assert.Empty(t, p.LeaveAll("alice"))
}
