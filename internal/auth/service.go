package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/partspoint/partspoint/internal/shared"
)

// Service wraps authentication business rules. Sessions are bearer tokens
// stored in Redis with a sliding TTL.
type Service struct {
	repo       Repository
	sessions   *redis.Client
	sessionTTL time.Duration
}

// NewService constructs a new Service.
func NewService(repo Repository, sessions *redis.Client, sessionTTL time.Duration) *Service {
	if sessionTTL <= 0 {
		sessionTTL = 12 * time.Hour
	}
	return &Service{repo: repo, sessions: sessions, sessionTTL: sessionTTL}
}

// Authenticate validates username/password credentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

func sessionKey(token string) string {
	return "session:" + token
}

// IssueToken creates a bearer token for the authenticated user.
func (s *Service) IssueToken(ctx context.Context, user *User) (string, error) {
	token := uuid.NewString()
	identity := shared.Identity{ID: user.ID, Username: user.Username, Role: user.Role}
	raw, err := json.Marshal(identity)
	if err != nil {
		return "", err
	}
	if err := s.sessions.Set(ctx, sessionKey(token), raw, s.sessionTTL).Err(); err != nil {
		return "", fmt.Errorf("auth: store session: %w", err)
	}
	return token, nil
}

// ResolveToken loads the identity behind a bearer token and refreshes its
// TTL.
func (s *Service) ResolveToken(ctx context.Context, token string) (shared.Identity, error) {
	raw, err := s.sessions.Get(ctx, sessionKey(token)).Result()
	if err != nil {
		return shared.Identity{}, shared.ErrInvalidCredentials
	}
	var identity shared.Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		return shared.Identity{}, shared.ErrInvalidCredentials
	}
	_ = s.sessions.Expire(ctx, sessionKey(token), s.sessionTTL).Err()
	return identity, nil
}

// RevokeToken drops a session.
func (s *Service) RevokeToken(ctx context.Context, token string) error {
	return s.sessions.Del(ctx, sessionKey(token)).Err()
}
