package services

import (
	"regexp"
	"strings"
)

const conversationSeparator = ":"

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

// ValidUsername reports whether name can be used as an identity key. The
// alphabet excludes ':' (conversation ids) and '.' (broker routing keys).
func ValidUsername(name string) bool {
	return usernameRe.MatchString(name)
}

// ConversationID is the canonical key for the unordered pair {a, b}.
func ConversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + conversationSeparator + b
}

// Participants splits a conversation id back into its two users.
func Participants(conversationID string) (string, string, error) {
	a, b, ok := strings.Cut(conversationID, conversationSeparator)
	if !ok || !ValidUsername(a) || !ValidUsername(b) || a >= b {
		return "", "", ErrInvalidRoom
	}
	return a, b, nil
}

// Peer returns the other participant of conversationID, or false if user is
// not part of it.
func Peer(conversationID, user string) (string, bool) {
	a, b, err := Participants(conversationID)
	if err != nil {
		return "", false
	}
	switch user {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}

// pairKey is the canonical key for friend-request uniqueness.
func pairKey(a, b string) string {
	return ConversationID(a, b)
}
