package services

import (
	"errors"
)

// ErrorKind classifies failures so transports can map them to a status
// without string matching.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindAuthentication
	KindAuthorization
	KindConflict
	KindNotFound
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	default:
		return "internal"
	}
}

// Error is a user-visible failure. Code is stable and sent to clients.
type Error struct {
	Kind ErrorKind
	Code string
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

var (
	ErrInvalidCredentials = &Error{KindAuthentication, "invalid_credentials", "invalid username or password"}
	ErrSessionExpired     = &Error{KindAuthentication, "session_expired", "session expired or unknown"}
	ErrNotAuthenticated   = &Error{KindAuthentication, "not_authenticated", "authenticate first"}

	ErrNotFriends    = &Error{KindAuthorization, "not_friends", "you are not friends with this user"}
	ErrNotRecipient  = &Error{KindAuthorization, "not_recipient", "only the recipient can handle this request"}
	ErrNotAuthorized = &Error{KindAuthorization, "not_authorized", "sender may not write to this conversation"}

	ErrDuplicatePending = &Error{KindConflict, "duplicate_pending", "a friend request between you is already pending"}
	ErrAlreadyResolved  = &Error{KindConflict, "already_resolved", "friend request was already handled"}
	ErrAlreadyFriends   = &Error{KindConflict, "already_friends", "you are already friends"}
	ErrUserExists       = &Error{KindConflict, "user_exists", "username is taken"}

	ErrRequestNotFound = &Error{KindNotFound, "not_found", "friend request not found"}
	ErrUserNotFound    = &Error{KindNotFound, "user_not_found", "user not found"}

	ErrSelfRequest      = &Error{KindValidation, "self_request", "cannot send a friend request to yourself"}
	ErrInvalidDecision  = &Error{KindValidation, "invalid_action", "action must be accept or reject"}
	ErrInvalidUsername  = &Error{KindValidation, "invalid_username", "username must be 3-32 letters, digits, '_' or '-'"}
	ErrInvalidPassword  = &Error{KindValidation, "invalid_password", "password must be 6-128 characters"}
	ErrInvalidRoom      = &Error{KindValidation, "invalid_room", "malformed conversation id"}
	ErrEmptyContent     = &Error{KindValidation, "empty_content", "message content is empty"}
	ErrNotJoined        = &Error{KindValidation, "not_joined", "join a chat before sending"}
	ErrRoomMismatch     = &Error{KindValidation, "room_mismatch", "target does not match the joined chat"}
	ErrUnknownEvent     = &Error{KindValidation, "unknown_event", "unknown event"}
	ErrMalformedPayload = &Error{KindValidation, "bad_payload", "malformed event payload"}
	ErrAlreadyAuthed    = &Error{KindValidation, "already_authenticated", "connection is already authenticated"}

	ErrConnectionClosed = &Error{KindInternal, "connection_closed", "connection is closed"}
)

// KindOf reports the kind of err, KindInternal for anything unclassified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Public returns the code and message safe to show to a client.
func Public(err error) (code, msg string) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, e.Msg
	}
	return "internal", "internal error"
}
