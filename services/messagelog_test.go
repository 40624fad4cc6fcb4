package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"securechat/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLLog(t *testing.T) (*SQLMessageLog, *RelationshipStore) {
	t.Helper()
	orm := newTestDB(t)
	seedUsers(t, orm, "alice", "bob", "carol")
	store := NewRelationshipStore(orm)
	befriend(t, store, "alice", "bob")
	log := NewSQLMessageLog(orm, store)
	log.nowFn = fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return log, store
}

func TestAppendAssignsConsecutiveSeq(t *testing.T) {
	log, _ := newSQLLog(t)
	ctx := context.Background()
	conv := ConversationID("alice", "bob")

	for i := 1; i <= 3; i++ {
		sender := "alice"
		if i == 2 {
			sender = "bob"
		}
		m, err := log.Append(ctx, conv, sender, fmt.Sprintf("blob-%d", i), AppendOptions{})
		require.NoError(t, err)
		assert.EqualValues(t, i, m.Seq)
		assert.Equal(t, sender, m.Sender)
		assert.Equal(t, models.MessageTypeText, m.MsgType)
	}

	other, err := log.Append(ctx, conv, "alice", "file", AppendOptions{MsgType: models.MessageTypeFile, FileName: "a.bin"})
	require.NoError(t, err)
	assert.EqualValues(t, 4, other.Seq)
	assert.Equal(t, "a.bin", other.FileName)
}

func TestAppendRejectsOutsiders(t *testing.T) {
	log, _ := newSQLLog(t)
	ctx := context.Background()

	_, err := log.Append(ctx, ConversationID("alice", "bob"), "carol", "x", AppendOptions{})
	assert.ErrorIs(t, err, ErrNotAuthorized)

	// carol is a participant here, but not a friend of alice
	conv := ConversationID("alice", "carol")
	_, err = log.Append(ctx, conv, "carol", "x", AppendOptions{})
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = log.Append(ctx, "not-a-room", "alice", "x", AppendOptions{})
	assert.ErrorIs(t, err, ErrNotAuthorized)

	history, err := log.History(ctx, conv, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAppendValidatesContent(t *testing.T) {
	log, _ := newSQLLog(t)
	ctx := context.Background()
	conv := ConversationID("alice", "bob")

	_, err := log.Append(ctx, conv, "alice", "", AppendOptions{})
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = log.Append(ctx, conv, "alice", "x", AppendOptions{MsgType: "video"})
	assert.Equal(t, KindValidation, KindOf(err))

	history, err := log.History(ctx, conv, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestConcurrentAppendsAreGapFree(t *testing.T) {
	log, _ := newSQLLog(t)
	ctx := context.Background()
	conv := ConversationID("alice", "bob")

	const writers = 40
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seqs []int64
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := "alice"
			if i%2 == 0 {
				sender = "bob"
			}
			m, err := log.Append(ctx, conv, sender, fmt.Sprintf("m%d", i), AppendOptions{})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			seqs = append(seqs, m.Seq)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Len(t, seqs, writers)
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, s := range seqs {
		assert.EqualValues(t, i+1, s)
	}

	history, err := log.History(ctx, conv, 0, writers+10)
	require.NoError(t, err)
	require.Len(t, history, writers)
	for i, m := range history {
		assert.EqualValues(t, i+1, m.Seq)
	}
}

func TestHistorySinceIsSuffix(t *testing.T) {
	log, _ := newSQLLog(t)
	ctx := context.Background()
	conv := ConversationID("alice", "bob")

	for i := 0; i < 10; i++ {
		_, err := log.Append(ctx, conv, "alice", fmt.Sprintf("m%d", i), AppendOptions{})
		require.NoError(t, err)
	}
	all, err := log.History(ctx, conv, 0, 100)
	require.NoError(t, err)
	require.Len(t, all, 10)

	for k := 0; k <= 10; k++ {
		tail, err := log.History(ctx, conv, int64(k), 100)
		require.NoError(t, err)
		assert.Equal(t, seqsOf(all[k:]), seqsOf(tail), "since=%d", k)
	}

	page, err := log.History(ctx, conv, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 5}, seqsOf(page))

	other, err := log.History(ctx, ConversationID("alice", "carol"), 0, 100)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func seqsOf(msgs []models.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Seq)
	}
	return out
}

// sliceLog serves History from memory and counts page fetches.
type sliceLog struct {
	msgs  []models.Message
	calls int
	err   error
}

func (s *sliceLog) Append(context.Context, string, string, string, AppendOptions) (*models.Message, error) {
	return nil, errors.New("read only")
}

func (s *sliceLog) History(_ context.Context, _ string, since int64, limit int) ([]models.Message, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var out []models.Message
	for _, m := range s.msgs {
		if m.Seq > since && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func newSliceLog(n int) *sliceLog {
	l := &sliceLog{}
	for i := 1; i <= n; i++ {
		l.msgs = append(l.msgs, models.Message{ConversationID: "alice:bob", Seq: int64(i)})
	}
	return l
}

func TestHistorySeqPagesLazily(t *testing.T) {
	log := newSliceLog(10)
	var got []int64
	for m, err := range HistorySeq(context.Background(), log, "alice:bob", 0, 3) {
		require.NoError(t, err)
		got = append(got, m.Seq)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
	assert.Equal(t, 4, log.calls)

	log.calls = 0
	for m, err := range HistorySeq(context.Background(), log, "alice:bob", 4, 3) {
		require.NoError(t, err)
		if m.Seq == 5 {
			break
		}
	}
	assert.Equal(t, 1, log.calls)
}

func TestHistorySeqIsRestartable(t *testing.T) {
	log := newSliceLog(5)
	seq := HistorySeq(context.Background(), log, "alice:bob", 2, 2)

	collect := func() []int64 {
		var out []int64
		for m, err := range seq {
			require.NoError(t, err)
			out = append(out, m.Seq)
		}
		return out
	}
	assert.Equal(t, []int64{3, 4, 5}, collect())
	assert.Equal(t, []int64{3, 4, 5}, collect())
}

func TestHistorySeqStopsOnError(t *testing.T) {
	log := &sliceLog{err: errors.New("boom")}
	n := 0
	for _, err := range HistorySeq(context.Background(), log, "alice:bob", 0, 2) {
		assert.EqualError(t, err, "boom")
		n++
	}
	assert.Equal(t, 1, n)
}
