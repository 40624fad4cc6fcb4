package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationIDIsOrderIndependent(t *testing.T) {
	assert.Equal(t, "alice:bob", ConversationID("alice", "bob"))
	assert.Equal(t, "alice:bob", ConversationID("bob", "alice"))
	assert.Equal(t, "Bob:alice", ConversationID("alice", "Bob"))
}

func TestParticipants(t *testing.T) {
	a, b, err := Participants("alice:bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", a)
	assert.Equal(t, "bob", b)

	for _, bad := range []string{"", "alice", "bob:alice", "alice:alice", "al:bob", "alice:bob:carol", "ali ce:bob"} {
		_, _, err := Participants(bad)
		assert.ErrorIs(t, err, ErrInvalidRoom, bad)
	}
}

func TestPeer(t *testing.T) {
	peer, ok := Peer("alice:bob", "alice")
	assert.True(t, ok)
	assert.Equal(t, "bob", peer)

	peer, ok = Peer("alice:bob", "bob")
	assert.True(t, ok)
	assert.Equal(t, "alice", peer)

	_, ok = Peer("alice:bob", "carol")
	assert.False(t, ok)
	_, ok = Peer("garbage", "alice")
	assert.False(t, ok)
}

func TestValidUsername(t *testing.T) {
	for _, good := range []string{"bob", "alice_1", "x-y-z", "ABC"} {
		assert.True(t, ValidUsername(good), good)
	}
	for _, bad := range []string{"", "ab", "a:b:c", "with.dot", "space here", "toolong_toolong_toolong_toolong_x"} {
		assert.False(t, ValidUsername(bad), bad)
	}
}
