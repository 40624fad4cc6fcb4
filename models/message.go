package models

import (
	"time"
)

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

// Message is one encrypted record of a conversation log. Seq is assigned by
// the log, never by the client.
type Message struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	ConversationID string    `gorm:"column:conversation_id;size:80;not null;uniqueIndex:idx_messages_conversation_seq,priority:1" json:"room"`
	Seq            int64     `gorm:"not null;uniqueIndex:idx_messages_conversation_seq,priority:2" json:"seq"`
	Sender         string    `gorm:"size:32;not null" json:"sender"`
	ContentEnc     string    `gorm:"column:content_enc;type:text;not null" json:"content_enc"`
	MsgType        string    `gorm:"size:16;not null;default:text" json:"msg_type"`
	FileName       string    `gorm:"size:255" json:"file_name,omitempty"`
	CreatedAt      time.Time `json:"timestamp"`
}

// TableName pins the table name regardless of naming strategy.
func (Message) TableName() string {
	return "messages"
}
