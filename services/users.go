package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"securechat/db"
	"securechat/models"

	"golang.org/x/crypto/argon2"
	"gorm.io/gorm"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// IdentityStore keeps usernames and their credential hashes.
type IdentityStore struct {
	orm *gorm.DB
}

func NewIdentityStore(orm *gorm.DB) *IdentityStore {
	return &IdentityStore{orm: orm}
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(hash), nil
}

func checkPassword(stored, password string) (bool, error) {
	parts := strings.Split(stored, "$")
	if len(parts) != 2 {
		return false, errors.New("invalid password hash format")
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false, err
	}
	want, err := hex.DecodeString(parts[1])
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func (s *IdentityStore) Register(ctx context.Context, username, password string) error {
	if !ValidUsername(username) {
		return ErrInvalidUsername
	}
	if len(password) < 6 || len(password) > 128 {
		return ErrInvalidPassword
	}
	hash, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user := models.User{
		Username:    username,
		Password:    hash,
		Nickname:    username,
		AvatarColor: models.DefaultAvatarColor,
	}
	err = db.GetWriteDB(ctx, s.orm).Create(&user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Verify checks the credentials. Unknown users and wrong passwords both
// yield ErrInvalidCredentials.
func (s *IdentityStore) Verify(ctx context.Context, username, password string) error {
	var user models.User
	err := db.GetWriteDB(ctx, s.orm).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	ok, err := checkPassword(user.Password, password)
	if err != nil {
		return fmt.Errorf("check password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}
	return nil
}

func (s *IdentityStore) Exists(ctx context.Context, username string) (bool, error) {
	var count int64
	err := db.GetReadOnlyDB(ctx, s.orm).Model(&models.User{}).Where("username = ?", username).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("error checking user: %w", err)
	}
	return count > 0, nil
}

func (s *IdentityStore) Profile(ctx context.Context, username string) (models.Profile, error) {
	var user models.User
	err := db.GetReadOnlyDB(ctx, s.orm).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Profile{}, ErrUserNotFound
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	return user.Profile(), nil
}

func (s *IdentityStore) UpdateProfile(ctx context.Context, username string, p models.Profile) error {
	if p.AvatarColor == "" {
		p.AvatarColor = models.DefaultAvatarColor
	}
	res := db.GetWriteDB(ctx, s.orm).Model(&models.User{}).Where("username = ?", username).Updates(map[string]any{
		"nickname":     p.Nickname,
		"signature":    p.Signature,
		"avatar_color": p.AvatarColor,
	})
	if res.Error != nil {
		return fmt.Errorf("update profile: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
