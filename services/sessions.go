package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Session is the server-side proof that a user logged in.
type Session struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SessionStore interface {
	Create(ctx context.Context, username string) (Session, error)
	// Get returns ErrSessionExpired for unknown or expired tokens.
	Get(ctx context.Context, token string) (Session, error)
	Delete(ctx context.Context, token string) error
}

func newToken() string {
	return uuid.NewString()
}

// MemorySessionStore keeps sessions in process; used for single-node runs
// and tests.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	ttl      time.Duration
	nowFn    func() time.Time
}

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]Session),
		ttl:      ttl,
		nowFn:    time.Now,
	}
}

func (s *MemorySessionStore) Create(_ context.Context, username string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := Session{Token: newToken(), Username: username, ExpiresAt: s.nowFn().Add(s.ttl)}
	s.sessions[sess.Token] = sess
	return sess, nil
}

func (s *MemorySessionStore) Get(_ context.Context, token string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return Session{}, ErrSessionExpired
	}
	if !s.nowFn().Before(sess.ExpiresAt) {
		delete(s.sessions, token)
		return Session{}, ErrSessionExpired
	}
	return sess, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

const sessionKeyPrefix = "session:"

// RedisSessionStore stores token -> username with the session TTL, so
// expiry is enforced by redis itself.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

func (s *RedisSessionStore) Create(ctx context.Context, username string) (Session, error) {
	sess := Session{Token: newToken(), Username: username, ExpiresAt: time.Now().Add(s.ttl)}
	if err := s.client.Set(ctx, sessionKeyPrefix+sess.Token, username, s.ttl).Err(); err != nil {
		return Session{}, fmt.Errorf("failed to store session: %w", err)
	}
	return sess, nil
}

func (s *RedisSessionStore) Get(ctx context.Context, token string) (Session, error) {
	key := sessionKeyPrefix + token
	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	_, err := pipe.Exec(ctx)
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrSessionExpired
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	return Session{Token: token, Username: get.Val(), ExpiresAt: time.Now().Add(ttl.Val())}, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// AuthService is the authentication collaborator used by the gateway and
// the HTTP layer: identity check plus session issue.
type AuthService struct {
	identity *IdentityStore
	sessions SessionStore
}

func NewAuthService(identity *IdentityStore, sessions SessionStore) *AuthService {
	return &AuthService{identity: identity, sessions: sessions}
}

func (a *AuthService) Register(ctx context.Context, username, password string) error {
	return a.identity.Register(ctx, username, password)
}

func (a *AuthService) Login(ctx context.Context, username, password string) (Session, error) {
	if err := a.identity.Verify(ctx, username, password); err != nil {
		return Session{}, err
	}
	return a.sessions.Create(ctx, username)
}

func (a *AuthService) Resolve(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrSessionExpired
	}
	return a.sessions.Get(ctx, token)
}

func (a *AuthService) Logout(ctx context.Context, token string) error {
	return a.sessions.Delete(ctx, token)
}

func (a *AuthService) Identity() *IdentityStore {
	return a.identity
}
