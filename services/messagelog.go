package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"securechat/db"
	"securechat/models"

	"gorm.io/gorm"
)

// AppendOptions carries the optional attachment metadata of a message.
type AppendOptions struct {
	MsgType  string
	FileName string
}

// MessageLog is the append-only, per-conversation history.
type MessageLog interface {
	// Append assigns the next sequence number of conversationID. It fails
	// with ErrNotAuthorized, without writing, unless sender is a participant
	// and still a friend of the other one.
	Append(ctx context.Context, conversationID, sender, content string, opts AppendOptions) (*models.Message, error)
	// History returns at most limit messages with seq > since, ascending.
	History(ctx context.Context, conversationID string, since int64, limit int) ([]models.Message, error)
}

const appendRetries = 3

func normalizeAppend(content string, opts AppendOptions) (AppendOptions, error) {
	if content == "" {
		return opts, ErrEmptyContent
	}
	switch opts.MsgType {
	case "":
		opts.MsgType = models.MessageTypeText
	case models.MessageTypeText, models.MessageTypeImage, models.MessageTypeFile:
	default:
		return opts, &Error{KindValidation, "bad_msg_type", "unsupported message type"}
	}
	return opts, nil
}

// authorizeAppend rejects senders outside the conversation or no longer
// friends with the peer. It runs before anything is stored.
func authorizeAppend(ctx context.Context, friends FriendChecker, conversationID, sender string) error {
	peer, ok := Peer(conversationID, sender)
	if !ok {
		return ErrNotAuthorized
	}
	linked, err := friends.AreFriends(ctx, sender, peer)
	if err != nil {
		return err
	}
	if !linked {
		return ErrNotAuthorized
	}
	return nil
}

// SQLMessageLog stores messages through gorm.
type SQLMessageLog struct {
	orm     *gorm.DB
	friends FriendChecker
	locks   *KeyedMutex
	nowFn   func() time.Time
}

func NewSQLMessageLog(orm *gorm.DB, friends FriendChecker) *SQLMessageLog {
	return &SQLMessageLog{
		orm:     orm,
		friends: friends,
		locks:   NewKeyedMutex(),
		nowFn:   time.Now,
	}
}

func (l *SQLMessageLog) Append(ctx context.Context, conversationID, sender, content string, opts AppendOptions) (*models.Message, error) {
	opts, err := normalizeAppend(content, opts)
	if err != nil {
		return nil, err
	}
	if err = authorizeAppend(ctx, l.friends, conversationID, sender); err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(conversationID)
	defer unlock()

	// The keyed lock orders appends within this process; the unique index on
	// (conversation_id, seq) catches a concurrent writer on another node.
	for attempt := 0; ; attempt++ {
		msg := &models.Message{
			ConversationID: conversationID,
			Sender:         sender,
			ContentEnc:     content,
			MsgType:        opts.MsgType,
			FileName:       opts.FileName,
			CreatedAt:      l.nowFn(),
		}
		err = db.GetWriteDB(ctx, l.orm).Transaction(func(tx *gorm.DB) error {
			var last int64
			if err := tx.Model(&models.Message{}).
				Where("conversation_id = ?", conversationID).
				Select("COALESCE(MAX(seq), 0)").
				Scan(&last).Error; err != nil {
				return err
			}
			msg.Seq = last + 1
			return tx.Create(msg).Error
		})
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) || attempt+1 >= appendRetries {
			return nil, fmt.Errorf("failed to append message: %w", err)
		}
	}
}

func (l *SQLMessageLog) History(ctx context.Context, conversationID string, since int64, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var messages []models.Message
	err := db.GetReadOnlyDB(ctx, l.orm).
		Where("conversation_id = ? AND seq > ?", conversationID, since).
		Order("seq ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}

// HistorySeq walks the history of conversationID after since, fetching
// pageSize messages at a time. Each range over the result starts again
// from since.
func HistorySeq(ctx context.Context, log MessageLog, conversationID string, since int64, pageSize int) iter.Seq2[models.Message, error] {
	if pageSize <= 0 {
		pageSize = 100
	}
	return func(yield func(models.Message, error) bool) {
		cursor := since
		for {
			page, err := log.History(ctx, conversationID, cursor, pageSize)
			if err != nil {
				yield(models.Message{}, err)
				return
			}
			for _, m := range page {
				if !yield(m, nil) {
					return
				}
				cursor = m.Seq
			}
			if len(page) < pageSize {
				return
			}
		}
	}
}
