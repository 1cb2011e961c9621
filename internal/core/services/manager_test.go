package services

import (
	"context"
	"errors"
	"testing"

	"github.com/meowlet/mercury-api/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_ConnectRequiresIdentity(t *testing.T) {
	hs := newHarness(false)
	_, err := hs.manager.HandleConnect(context.Background(), newMockHandle(), "")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.Empty(t, hs.registry.OnlineUsers())
}

func TestManager_LastDisconnectMarksOffline(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		hs := newHarness(false)
		clients := make([]*client, n)
		for i := range clients {
			clients[i] = hs.connect(t, "alice")
		}
		for i := 0; i < n-1; i++ {
			hs.disconnect(clients[i])
			assert.Equal(t, 0, hs.sink.offline("alice"), "still online after %d of %d disconnects", i+1, n)
			assert.Equal(t, n-1-i, hs.registry.ConnectionCount("alice"))
		}
		hs.disconnect(clients[n-1])
		assert.Equal(t, 1, hs.sink.offline("alice"))
		assert.Equal(t, 0, hs.registry.ConnectionCount("alice"))
	}
}

func TestManager_ClosedTabLeavesOtherTabWorking(t *testing.T) {
	hs := newHarness(false)
	hs.chat.addMembers(conv1, "alice", "bob")
	bob := hs.connect(t, "bob")
	hs.join(t, bob, conv1)
	tab1, tab2 := hs.connect(t, "alice"), hs.connect(t, "alice")
	hs.join(t, tab1, conv1)
	hs.join(t, tab2, conv1)
	bob.h.reset()

	hs.disconnect(tab1)

	assert.Empty(t, bob.h.events(t), "alice is still present through tab 2")
	assert.True(t, hs.presence.IsPresent(conv1, "alice"))
	assert.Equal(t, 0, hs.sink.offline("alice"))

	tab2.h.reset()
	require.NoError(t, hs.send(bob, `{"type":"typing","conversationId":"`+conv1+`","data":{"isTyping":true}}`))
	assert.Equal(t, []string{"typing"}, tab2.h.types(t))
}

func TestManager_FullDisconnectLeavesEveryConversation(t *testing.T) {
	hs := newHarness(false)
	hs.chat.addMembers(conv1, "alice", "bob")
	hs.chat.addMembers(conv2, "alice", "carol")
	bob, carol := hs.connect(t, "bob"), hs.connect(t, "carol")
	hs.join(t, bob, conv1)
	hs.join(t, carol, conv2)
	tab1, tab2 := hs.connect(t, "alice"), hs.connect(t, "alice")
	hs.join(t, tab1, conv1)
	hs.join(t, tab2, conv2)
	bob.h.reset()
	carol.h.reset()

	hs.disconnect(tab1)
	hs.disconnect(tab2)

	assert.Equal(t, []string{"user_left"}, bob.h.types(t))
	assert.Equal(t, conv1, bob.h.last(t)["conversationId"])
	assert.Equal(t, []string{"user_left"}, carol.h.types(t))
	assert.Equal(t, conv2, carol.h.last(t)["conversationId"])
	assert.False(t, hs.presence.IsPresent(conv1, "alice"))
	assert.False(t, hs.presence.IsPresent(conv2, "alice"))
	assert.Equal(t, 1, hs.sink.offline("alice"))
}

func TestManager_EvictedUserLeavesConversations(t *testing.T) {
	hs := newHarness(false)
	hs.chat.addMembers(conv1, "alice", "bob")
	alice, bob := hs.connect(t, "alice"), hs.connect(t, "bob")
	hs.join(t, alice, conv1)
	hs.join(t, bob, conv1)
	bob.h.reset()

	alice.h.fail(errors.New("broken pipe"))
	require.NoError(t, hs.send(bob, `{"type":"typing","conversationId":"`+conv1+`","data":{"isTyping":true}}`))

	assert.Equal(t, 0, hs.registry.ConnectionCount("alice"))
	assert.False(t, hs.presence.IsPresent(conv1, "alice"))
	assert.Equal(t, []string{"user_left"}, bob.h.types(t))
	assert.Equal(t, 1, hs.sink.offline("alice"))

	// alice comes back before the old socket's close is processed
	again := hs.connect(t, "alice")
	hs.join(t, again, conv1)
	hs.disconnect(alice)

	assert.True(t, hs.presence.IsPresent(conv1, "alice"))
	assert.Equal(t, 1, hs.registry.ConnectionCount("alice"))
	assert.Equal(t, 1, hs.sink.offline("alice"))
}

func TestManager_DisconnectOfActiveConversationOnly(t *testing.T) {
	hs := newHarness(false)
	hs.chat.addMembers(conv1, "alice", "bob")
	hs.chat.addMembers(conv2, "alice", "bob")
	bob := hs.connect(t, "bob")
	hs.join(t, bob, conv1)
	alice := hs.connect(t, "alice")
	hs.join(t, alice, conv1)
	hs.join(t, alice, conv2)
	bob.h.reset()

	hs.disconnect(alice)

	assert.Empty(t, bob.h.events(t), "alice already left conv1 when switching")
	assert.Empty(t, hs.presence.MembersOf(conv2))
}
