package services

import (
	"context"
)

// RoomRouter decides which conversation a connection listens to. A
// connection has at most one active room.
type RoomRouter struct {
	registry *ConnRegistry
	friends  FriendChecker
}

func NewRoomRouter(registry *ConnRegistry, friends FriendChecker) *RoomRouter {
	return &RoomRouter{registry: registry, friends: friends}
}

// Join subscribes connID to the conversation between user and target,
// replacing any previous room. On error the subscriptions are untouched.
func (r *RoomRouter) Join(ctx context.Context, connID, user, target string) (string, error) {
	if !ValidUsername(target) {
		return "", ErrNotFriends
	}
	ok, err := r.friends.AreFriends(ctx, user, target)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFriends
	}
	conv := ConversationID(user, target)
	if !r.registry.ReplaceSubscriptions(connID, conv) {
		return "", ErrConnectionClosed
	}
	return conv, nil
}

// Leave drops the room of connID and returns it, or "" if there was none.
func (r *RoomRouter) Leave(connID string) string {
	prev, _ := r.Current(connID)
	r.registry.ReplaceSubscriptions(connID, "")
	return prev
}

func (r *RoomRouter) Current(connID string) (string, bool) {
	subs := r.registry.Subscriptions(connID)
	if len(subs) == 0 {
		return "", false
	}
	return subs[0], true
}
