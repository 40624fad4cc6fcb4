package models

import "time"

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

// FriendRequest is one consent request from FromUser to ToUser.
// Status moves from pending to accepted or rejected exactly once.
type FriendRequest struct {
	ID         int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	FromUser   string        `gorm:"size:32;not null;index" json:"from_user"`
	ToUser     string        `gorm:"size:32;not null;index" json:"to_user"`
	PairKey    string        `gorm:"size:80;not null" json:"-"`
	Status     RequestStatus `gorm:"size:16;not null;default:pending" json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

func (FriendRequest) TableName() string {
	return "friend_requests"
}

// Friendship stores one direction of a friend edge; accepting a request
// writes both directions.
type Friendship struct {
	UserName   string    `gorm:"column:user_name;primaryKey;size:32" json:"user"`
	FriendName string    `gorm:"column:friend_name;primaryKey;size:32" json:"friend"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Friendship) TableName() string {
	return "friendships"
}
