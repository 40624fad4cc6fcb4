package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"securechat/db"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testPassword = "secret-pass"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	orm, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := orm.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return orm
}

func seedUsers(t *testing.T, orm *gorm.DB, names ...string) {
	t.Helper()
	identity := NewIdentityStore(orm)
	for _, name := range names {
		require.NoError(t, identity.Register(context.Background(), name, testPassword))
	}
}

func befriend(t *testing.T, store *RelationshipStore, a, b string) {
	t.Helper()
	ctx := context.Background()
	req, err := store.SubmitRequest(ctx, a, b)
	require.NoError(t, err)
	_, err = store.ResolveRequest(ctx, req.ID, b, DecisionAccept)
	require.NoError(t, err)
}

// recorder is an Outbound that keeps everything it is given.
type recorder struct {
	mu     sync.Mutex
	events []Event
	limit  int
	closed bool
}

func newRecorder() *recorder {
	return &recorder{limit: -1}
}

func (r *recorder) Deliver(ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || (r.limit >= 0 && len(r.events) >= r.limit) {
		return false
	}
	r.events = append(r.events, ev)
	return true
}

func (r *recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) named(name string) []Event {
	var out []Event
	for _, ev := range r.all() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) last() Event {
	events := r.all()
	if len(events) == 0 {
		return Event{}
	}
	return events[len(events)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// fixedClock returns a now func that advances one second per call.
func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}
