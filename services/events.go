package services

import (
	"encoding/json"
	"time"

	"securechat/models"
)

// Client -> server events.
const (
	EventAuthenticate  = "authenticate"
	EventJoinChat      = "join_chat"
	EventSendMessage   = "send_message"
	EventLeaveChat     = "leave_chat"
	EventFriendRequest = "friend_request"
	EventHandleRequest = "handle_request"
	EventListRequests  = "list_requests"
	EventListFriends   = "list_friends"
	EventPing          = "ping"
)

// Server -> client events.
const (
	EventAuthenticated   = "authenticated"
	EventJoined          = "joined"
	EventLeft            = "left"
	EventNewMessage      = "new_message"
	EventHistory         = "history_messages"
	EventNewRequest      = "new_request_notify"
	EventRequestResolved = "request_resolved"
	EventRequestResult   = "request_result"
	EventFriends         = "friends"
	EventPendingRequests = "pending_requests"
	EventError           = "error"
	EventPong            = "pong"
)

// Event is the envelope written to clients.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// Inbound is the envelope read from clients. Data is decoded per event.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type AuthenticatePayload struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type JoinPayload struct {
	Target string `json:"target"`
	Since  int64  `json:"since"`
}

type SendPayload struct {
	Target   string `json:"target"`
	Content  string `json:"content"`
	MsgType  string `json:"msg_type"`
	FileName string `json:"file_name"`
}

type FriendRequestPayload struct {
	Target string `json:"target"`
}

type HandleRequestPayload struct {
	ReqID  int64  `json:"req_id"`
	Action string `json:"action"`
}

type AuthenticatedData struct {
	Username string `json:"username"`
	ConnID   string `json:"conn_id"`
}

type JoinedData struct {
	Room   string `json:"room"`
	Target string `json:"target"`
}

type LeftData struct {
	Room string `json:"room"`
}

type NewMessageData struct {
	Room        string    `json:"room"`
	Seq         int64     `json:"seq"`
	Sender      string    `json:"sender"`
	Content     string    `json:"content"`
	MsgType     string    `json:"msg_type"`
	FileName    string    `json:"file_name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	IsEncrypted bool      `json:"is_encrypted"`
}

type HistoryItem struct {
	Seq        int64     `json:"seq"`
	Sender     string    `json:"sender"`
	ContentEnc string    `json:"content_enc"`
	MsgType    string    `json:"msg_type"`
	FileName   string    `json:"file_name,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type HistoryData struct {
	Room     string        `json:"room"`
	Messages []HistoryItem `json:"messages"`
	HasMore  bool          `json:"has_more"`
}

type NewRequestData struct {
	From  string `json:"from"`
	ReqID int64  `json:"req_id"`
}

type RequestResolvedData struct {
	ReqID  int64                `json:"req_id"`
	By     string               `json:"by"`
	Status models.RequestStatus `json:"status"`
}

type RequestResultData struct {
	ReqID  int64                `json:"req_id"`
	Target string               `json:"target,omitempty"`
	Status models.RequestStatus `json:"status"`
	Msg    string               `json:"msg"`
}

type FriendsData struct {
	Friends []string `json:"friends"`
}

type PendingItem struct {
	ID       int64     `json:"id"`
	FromUser string    `json:"from_user"`
	Created  time.Time `json:"created_at"`
}

type PendingData struct {
	Requests []PendingItem `json:"requests"`
}

type ErrorData struct {
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Event string `json:"event,omitempty"`
}

func newMessageEvent(m *models.Message) Event {
	return Event{Name: EventNewMessage, Data: NewMessageData{
		Room:        m.ConversationID,
		Seq:         m.Seq,
		Sender:      m.Sender,
		Content:     m.ContentEnc,
		MsgType:     m.MsgType,
		FileName:    m.FileName,
		Timestamp:   m.CreatedAt,
		IsEncrypted: true,
	}}
}

func historyItem(m models.Message) HistoryItem {
	return HistoryItem{
		Seq:        m.Seq,
		Sender:     m.Sender,
		ContentEnc: m.ContentEnc,
		MsgType:    m.MsgType,
		FileName:   m.FileName,
		Timestamp:  m.CreatedAt,
	}
}

// HistoryItems converts log entries to their wire form.
func HistoryItems(msgs []models.Message) []HistoryItem {
	items := make([]HistoryItem, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, historyItem(m))
	}
	return items
}

// PendingItems converts requests to their wire form.
func PendingItems(requests []models.FriendRequest) []PendingItem {
	items := make([]PendingItem, 0, len(requests))
	for _, r := range requests {
		items = append(items, PendingItem{ID: r.ID, FromUser: r.FromUser, Created: r.CreatedAt})
	}
	return items
}

func errorEvent(err error, event string) Event {
	code, msg := Public(err)
	return Event{Name: EventError, Data: ErrorData{Code: code, Msg: msg, Event: event}}
}
