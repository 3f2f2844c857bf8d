package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

const (
	sessionKeyPrefix  = "session:"
	authChannelPrefix = "auth:"
)

// SessionStore maps opaque bearer tokens to user IDs in Redis. Only a
// BLAKE2b digest of each token is used in keys and channel names.
type SessionStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewSessionStore creates a Redis-backed session store.
func NewSessionStore(client redis.UniversalClient, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

// HashToken returns the hex BLAKE2b-256 digest of token.
func HashToken(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Issue creates a new session token for userID.
func (s *SessionStore) Issue(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user_id is required")
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(b)

	if err := s.client.Set(ctx, sessionKeyPrefix+HashToken(token), userID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// Resolve returns the user bound to token. Unknown or expired tokens are
// anonymous, not errors.
func (s *SessionStore) Resolve(ctx context.Context, token string) (string, bool, error) {
	if token == "" {
		return "", false, nil
	}
	userID, err := s.client.Get(ctx, sessionKeyPrefix+HashToken(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve session: %w", err)
	}
	return userID, userID != "", nil
}

// Revoke deletes the session and notifies subscribers of the sign-out.
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	hash := HashToken(token)
	if err := s.client.Del(ctx, sessionKeyPrefix+hash).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if err := s.client.Publish(ctx, authChannelPrefix+hash, "").Err(); err != nil {
		slog.Warn("auth change publish failed", "error", err)
	}
	return nil
}

// ForToken returns a Source bound to one bearer token.
func (s *SessionStore) ForToken(token string) Source {
	return &tokenSource{store: s, token: token}
}

type tokenSource struct {
	store *SessionStore
	token string
}

func (t *tokenSource) CurrentUser(ctx context.Context) (string, bool, error) {
	return t.store.Resolve(ctx, t.token)
}

// Subscribe listens on the token's Redis channel. An empty payload means sign-out.
func (t *tokenSource) Subscribe(fn Listener) func() {
	if t.token == "" {
		return func() {}
	}

	ps := t.store.client.Subscribe(context.Background(), authChannelPrefix+HashToken(t.token))
	ch := ps.Channel()
	go func() {
		for msg := range ch {
			fn(msg.Payload, msg.Payload != "")
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := ps.Close(); err != nil {
				slog.Debug("auth subscription close failed", "error", err)
			}
		})
	}
}
