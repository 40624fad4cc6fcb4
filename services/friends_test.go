package services

import (
	"context"
	"sync"
	"testing"

	"securechat/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRelationships(t *testing.T, users ...string) *RelationshipStore {
	t.Helper()
	orm := newTestDB(t)
	seedUsers(t, orm, users...)
	return NewRelationshipStore(orm)
}

func TestSubmitRequestCreatesPending(t *testing.T) {
	store := newRelationships(t, "alice", "bob")
	ctx := context.Background()

	req, err := store.SubmitRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.NotZero(t, req.ID)
	assert.Equal(t, models.RequestPending, req.Status)

	pending, err := store.ListPending(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "alice", pending[0].FromUser)

	count, err := store.PendingCount(ctx, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	outgoing, err := store.ListPending(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, outgoing)
}

func TestSubmitRequestRejectsDuplicatesInBothDirections(t *testing.T) {
	store := newRelationships(t, "alice", "bob")
	ctx := context.Background()

	_, err := store.SubmitRequest(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = store.SubmitRequest(ctx, "alice", "bob")
	assert.ErrorIs(t, err, ErrDuplicatePending)
	_, err = store.SubmitRequest(ctx, "bob", "alice")
	assert.ErrorIs(t, err, ErrDuplicatePending)
}

func TestSubmitRequestValidation(t *testing.T) {
	store := newRelationships(t, "alice")
	ctx := context.Background()

	_, err := store.SubmitRequest(ctx, "alice", "alice")
	assert.ErrorIs(t, err, ErrSelfRequest)

	_, err = store.SubmitRequest(ctx, "alice", "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAcceptCreatesSymmetricFriendship(t *testing.T) {
	store := newRelationships(t, "alice", "bob")
	ctx := context.Background()

	req, err := store.SubmitRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	resolved, err := store.ResolveRequest(ctx, req.ID, "bob", DecisionAccept)
	require.NoError(t, err)
	assert.Equal(t, models.RequestAccepted, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)

	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		ok, err := store.AreFriends(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.True(t, ok, pair)
	}

	friends, err := store.ListFriends(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, friends)
	friends, err = store.ListFriends(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, friends)

	_, err = store.SubmitRequest(ctx, "alice", "bob")
	assert.ErrorIs(t, err, ErrAlreadyFriends)
	_, err = store.SubmitRequest(ctx, "bob", "alice")
	assert.ErrorIs(t, err, ErrAlreadyFriends)

	pending, err := store.ListPending(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRejectAllowsNewRequest(t *testing.T) {
	store := newRelationships(t, "alice", "bob")
	ctx := context.Background()

	req, err := store.SubmitRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	resolved, err := store.ResolveRequest(ctx, req.ID, "bob", DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, resolved.Status)

	ok, err := store.AreFriends(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := store.SubmitRequest(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Greater(t, again.ID, req.ID)
}

func TestResolveRequestErrors(t *testing.T) {
	store := newRelationships(t, "alice", "bob", "carol")
	ctx := context.Background()

	req, err := store.SubmitRequest(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = store.ResolveRequest(ctx, req.ID+100, "bob", DecisionAccept)
	assert.ErrorIs(t, err, ErrRequestNotFound)

	_, err = store.ResolveRequest(ctx, req.ID, "alice", DecisionAccept)
	assert.ErrorIs(t, err, ErrNotRecipient)
	_, err = store.ResolveRequest(ctx, req.ID, "carol", DecisionAccept)
	assert.ErrorIs(t, err, ErrNotRecipient)

	_, err = store.ResolveRequest(ctx, req.ID, "bob", Decision("maybe"))
	assert.ErrorIs(t, err, ErrInvalidDecision)

	_, err = store.ResolveRequest(ctx, req.ID, "bob", DecisionReject)
	require.NoError(t, err)
	_, err = store.ResolveRequest(ctx, req.ID, "bob", DecisionAccept)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestConcurrentResolveHasOneWinner(t *testing.T) {
	store := newRelationships(t, "alice", "bob")
	ctx := context.Background()

	req, err := store.SubmitRequest(ctx, "alice", "bob")
	require.NoError(t, err)

	const callers = 8
	var (
		wg   sync.WaitGroup
		errs = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decision := DecisionAccept
			if i%2 == 1 {
				decision = DecisionReject
			}
			_, errs[i] = store.ResolveRequest(ctx, req.ID, "bob", decision)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyResolved)
	}
	assert.Equal(t, 1, wins)
}

func TestListPendingInCreationOrder(t *testing.T) {
	store := newRelationships(t, "alice", "bob", "carol", "dave")
	ctx := context.Background()

	for _, from := range []string{"carol", "alice", "bob"} {
		_, err := store.SubmitRequest(ctx, from, "dave")
		require.NoError(t, err)
	}
	pending, err := store.ListPending(ctx, "dave")
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "carol", pending[0].FromUser)
	assert.Equal(t, "alice", pending[1].FromUser)
	assert.Equal(t, "bob", pending[2].FromUser)
	assert.Less(t, pending[0].ID, pending[1].ID)
	assert.Less(t, pending[1].ID, pending[2].ID)
}

func TestListFriendsSorted(t *testing.T) {
	store := newRelationships(t, "alice", "zed", "bob", "mia")
	befriend(t, store, "zed", "alice")
	befriend(t, store, "alice", "mia")
	befriend(t, store, "bob", "alice")

	friends, err := store.ListFriends(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "mia", "zed"}, friends)

	ok, err := store.AreFriends(context.Background(), "alice", "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentOppositeSubmitsLeaveOnePending(t *testing.T) {
	store := newRelationships(t, "alice", "bob")
	ctx := context.Background()

	const rounds = 8
	var (
		wg   sync.WaitGroup
		errs = make([]error, rounds*2)
	)
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, errs[2*i] = store.SubmitRequest(ctx, "alice", "bob")
		}(i)
		go func(i int) {
			defer wg.Done()
			_, errs[2*i+1] = store.SubmitRequest(ctx, "bob", "alice")
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicatePending)
	}
	assert.Equal(t, 1, created)

	var pending int64
	require.NoError(t, store.orm.Model(&models.FriendRequest{}).
		Where("pair_key = ? AND status = ?", pairKey("alice", "bob"), models.RequestPending).
		Count(&pending).Error)
	assert.EqualValues(t, 1, pending)
}
