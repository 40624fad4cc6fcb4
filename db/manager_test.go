package db

import (
	"testing"

	"securechat/config"
	"securechat/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestOpenSQLiteMigrates(t *testing.T) {
	orm, err := OpenSQLite(":memory:")
	require.NoError(t, err)

	for _, table := range []string{"users", "friend_requests", "friendships", "messages"} {
		assert.True(t, orm.Migrator().HasTable(table), table)
	}
	assert.True(t, orm.Migrator().HasIndex(&models.Message{}, "idx_messages_conversation_seq"))
	assert.True(t, orm.Migrator().HasIndex(&models.FriendRequest{}, "idx_friend_requests_pending_pair"))
}

func TestPendingPairIndexIsPartial(t *testing.T) {
	orm, err := OpenSQLite(":memory:")
	require.NoError(t, err)

	first := models.FriendRequest{FromUser: "alice", ToUser: "bob", PairKey: "alice:bob", Status: models.RequestPending}
	require.NoError(t, orm.Create(&first).Error)

	dup := models.FriendRequest{FromUser: "bob", ToUser: "alice", PairKey: "alice:bob", Status: models.RequestPending}
	err = orm.Create(&dup).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	require.NoError(t, orm.Model(&first).Update("status", models.RequestRejected).Error)
	again := models.FriendRequest{FromUser: "bob", ToUser: "alice", PairKey: "alice:bob", Status: models.RequestPending}
	assert.NoError(t, orm.Create(&again).Error)
}

func TestMessageSeqUnique(t *testing.T) {
	orm, err := OpenSQLite(":memory:")
	require.NoError(t, err)

	m := models.Message{ConversationID: "alice:bob", Seq: 1, Sender: "alice", ContentEnc: "x", MsgType: models.MessageTypeText}
	require.NoError(t, orm.Create(&m).Error)
	m2 := models.Message{ConversationID: "alice:bob", Seq: 1, Sender: "bob", ContentEnc: "y", MsgType: models.MessageTypeText}
	assert.ErrorIs(t, orm.Create(&m2).Error, gorm.ErrDuplicatedKey)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	conf := config.Default()
	conf.Databases.Master.Driver = "oracle"
	_, err := Open(conf)
	assert.Error(t, err)

	_, err = Open(nil)
	assert.Error(t, err)
}
