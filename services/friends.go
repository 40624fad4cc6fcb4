package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"securechat/db"
	"securechat/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// FriendChecker is the part of the relationship store the router and the
// message log depend on.
type FriendChecker interface {
	AreFriends(ctx context.Context, a, b string) (bool, error)
}

// RelationshipStore holds friend edges and the friend-request state machine.
type RelationshipStore struct {
	orm   *gorm.DB
	locks *KeyedMutex
	nowFn func() time.Time
}

func NewRelationshipStore(orm *gorm.DB) *RelationshipStore {
	return &RelationshipStore{
		orm:   orm,
		locks: NewKeyedMutex(),
		nowFn: time.Now,
	}
}

// SubmitRequest creates a pending request from -> to.
func (s *RelationshipStore) SubmitRequest(ctx context.Context, from, to string) (*models.FriendRequest, error) {
	if from == to {
		return nil, ErrSelfRequest
	}
	key := pairKey(from, to)
	unlock := s.locks.Lock("pair:" + key)
	defer unlock()

	var userCount int64
	err := db.GetWriteDB(ctx, s.orm).Model(&models.User{}).Where("username IN ?", []string{from, to}).Count(&userCount).Error
	if err != nil {
		return nil, fmt.Errorf("error checking users: %w", err)
	}
	if userCount != 2 {
		return nil, ErrUserNotFound
	}

	req := &models.FriendRequest{
		FromUser:  from,
		ToUser:    to,
		PairKey:   key,
		Status:    models.RequestPending,
		CreatedAt: s.nowFn(),
	}
	err = db.GetWriteDB(ctx, s.orm).Transaction(func(tx *gorm.DB) error {
		var friends int64
		if err := tx.Model(&models.Friendship{}).
			Where("user_name = ? AND friend_name = ?", from, to).
			Count(&friends).Error; err != nil {
			return err
		}
		if friends > 0 {
			return ErrAlreadyFriends
		}

		var pending int64
		if err := tx.Model(&models.FriendRequest{}).
			Where("pair_key = ? AND status = ?", key, models.RequestPending).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return ErrDuplicatePending
		}

		err := tx.Create(req).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// another node won the race on the partial unique index
			return ErrDuplicatePending
		}
		return err
	})
	if err != nil {
		return nil, wrapStoreErr("failed to create friend request", err)
	}
	return req, nil
}

// ListPending returns pending requests addressed to user in creation order.
func (s *RelationshipStore) ListPending(ctx context.Context, user string) ([]models.FriendRequest, error) {
	var requests []models.FriendRequest
	err := db.GetReadOnlyDB(ctx, s.orm).
		Where("to_user = ? AND status = ?", user, models.RequestPending).
		Order("id ASC").
		Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get pending requests: %w", err)
	}
	return requests, nil
}

func (s *RelationshipStore) PendingCount(ctx context.Context, user string) (int64, error) {
	var count int64
	err := db.GetReadOnlyDB(ctx, s.orm).Model(&models.FriendRequest{}).
		Where("to_user = ? AND status = ?", user, models.RequestPending).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count pending requests: %w", err)
	}
	return count, nil
}

// ResolveRequest moves request id out of pending. Only the first of any
// number of concurrent callers succeeds; the rest see ErrAlreadyResolved.
func (s *RelationshipStore) ResolveRequest(ctx context.Context, id int64, actor string, decision Decision) (*models.FriendRequest, error) {
	var status models.RequestStatus
	switch decision {
	case DecisionAccept:
		status = models.RequestAccepted
	case DecisionReject:
		status = models.RequestRejected
	default:
		return nil, ErrInvalidDecision
	}

	unlock := s.locks.Lock(fmt.Sprintf("request:%d", id))
	defer unlock()

	var req models.FriendRequest
	err := db.GetWriteDB(ctx, s.orm).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ?", id).First(&req).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRequestNotFound
		}
		if err != nil {
			return err
		}
		if req.ToUser != actor {
			return ErrNotRecipient
		}
		if req.Status != models.RequestPending {
			return ErrAlreadyResolved
		}

		now := s.nowFn()
		res := tx.Model(&models.FriendRequest{}).
			Where("id = ? AND status = ?", id, models.RequestPending).
			Updates(map[string]any{"status": status, "resolved_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrAlreadyResolved
		}
		req.Status = status
		req.ResolvedAt = &now

		if status != models.RequestAccepted {
			return nil
		}
		edges := []models.Friendship{
			{UserName: req.FromUser, FriendName: req.ToUser, CreatedAt: now},
			{UserName: req.ToUser, FriendName: req.FromUser, CreatedAt: now},
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&edges).Error
	})
	if err != nil {
		return nil, wrapStoreErr("failed to resolve friend request", err)
	}
	return &req, nil
}

// ListFriends returns the friend set of user, sorted.
func (s *RelationshipStore) ListFriends(ctx context.Context, user string) ([]string, error) {
	var friends []string
	err := db.GetReadOnlyDB(ctx, s.orm).Model(&models.Friendship{}).
		Where("user_name = ?", user).
		Pluck("friend_name", &friends).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get friends: %w", err)
	}
	sort.Strings(friends)
	return friends, nil
}

func (s *RelationshipStore) AreFriends(ctx context.Context, a, b string) (bool, error) {
	if a == b {
		return false, nil
	}
	var count int64
	err := db.GetWriteDB(ctx, s.orm).Model(&models.Friendship{}).
		Where("user_name = ? AND friend_name = ?", a, b).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check friendship: %w", err)
	}
	return count > 0, nil
}

// wrapStoreErr passes classified errors through untouched and adds context
// to driver errors.
func wrapStoreErr(msg string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return fmt.Errorf("%s: %w", msg, err)
}
