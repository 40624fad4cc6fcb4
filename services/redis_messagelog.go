package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"securechat/models"

	"github.com/go-redis/redis/v8"
)

// appendScript assigns the next seq and stores the message in one step, so
// concurrent appenders on any node get distinct, gap-free numbers.
var appendScript = redis.NewScript(`
	local seq_key = KEYS[1]
	local log_key = KEYS[2]
	local seq = redis.call('INCR', seq_key)

	local message = {
		seq = seq,
		sender = ARGV[1],
		content_enc = ARGV[2],
		msg_type = ARGV[3],
		file_name = ARGV[4],
		created_at = tonumber(ARGV[5])
	}
	redis.call('ZADD', log_key, seq, cjson.encode(message))
	return seq
`)

// redisEntry is the JSON stored as a sorted-set member.
type redisEntry struct {
	Seq        int64  `json:"seq"`
	Sender     string `json:"sender"`
	ContentEnc string `json:"content_enc"`
	MsgType    string `json:"msg_type"`
	FileName   string `json:"file_name"`
	CreatedAt  int64  `json:"created_at"` // unix millis
}

// RedisMessageLog keeps each conversation as a sorted set scored by seq.
type RedisMessageLog struct {
	client  *redis.Client
	friends FriendChecker
	nowFn   func() time.Time
}

func NewRedisMessageLog(ctx context.Context, client *redis.Client, friends FriendChecker) (*RedisMessageLog, error) {
	if err := appendScript.Load(ctx, client).Err(); err != nil {
		return nil, fmt.Errorf("failed to load append script: %w", err)
	}
	return &RedisMessageLog{client: client, friends: friends, nowFn: time.Now}, nil
}

func seqKey(conversationID string) string {
	return "seq:" + conversationID
}

func logKey(conversationID string) string {
	return "conv:" + conversationID
}

func (l *RedisMessageLog) Append(ctx context.Context, conversationID, sender, content string, opts AppendOptions) (*models.Message, error) {
	opts, err := normalizeAppend(content, opts)
	if err != nil {
		return nil, err
	}
	if err = authorizeAppend(ctx, l.friends, conversationID, sender); err != nil {
		return nil, err
	}

	now := l.nowFn()
	seq, err := appendScript.Run(ctx, l.client,
		[]string{seqKey(conversationID), logKey(conversationID)},
		sender, content, opts.MsgType, opts.FileName, now.UnixMilli()).Int64()
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return &models.Message{
		ConversationID: conversationID,
		Seq:            seq,
		Sender:         sender,
		ContentEnc:     content,
		MsgType:        opts.MsgType,
		FileName:       opts.FileName,
		CreatedAt:      time.UnixMilli(now.UnixMilli()),
	}, nil
}

func (l *RedisMessageLog) History(ctx context.Context, conversationID string, since int64, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	members, err := l.client.ZRangeByScore(ctx, logKey(conversationID), &redis.ZRangeBy{
		Min:   "(" + strconv.FormatInt(since, 10),
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	messages := make([]models.Message, 0, len(members))
	for _, member := range members {
		var e redisEntry
		if err := json.Unmarshal([]byte(member), &e); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		messages = append(messages, models.Message{
			ConversationID: conversationID,
			Seq:            e.Seq,
			Sender:         e.Sender,
			ContentEnc:     e.ContentEnc,
			MsgType:        e.MsgType,
			FileName:       e.FileName,
			CreatedAt:      time.UnixMilli(e.CreatedAt),
		})
	}
	return messages, nil
}
