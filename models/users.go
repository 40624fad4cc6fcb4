package models

import (
	"time"
)

const DefaultAvatarColor = "#3498db"

type User struct {
	Username    string    `gorm:"primaryKey;size:32" json:"username"`
	Password    string    `gorm:"size:255;not null" json:"-"`
	Nickname    string    `gorm:"size:60" json:"nickname"`
	Signature   string    `gorm:"size:255" json:"signature"`
	AvatarColor string    `gorm:"size:16" json:"avatar_color"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// Profile is the public part of a user record.
type Profile struct {
	Nickname    string `json:"nickname"`
	Signature   string `json:"signature"`
	AvatarColor string `json:"avatar_color"`
}

func (u User) Profile() Profile {
	return Profile{Nickname: u.Nickname, Signature: u.Signature, AvatarColor: u.AvatarColor}
}
