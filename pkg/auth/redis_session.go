package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/identity-manager/pkg/domain"
)

// RedisSessionIssuer stores opaque sessions in Redis. Each session is a hash
// under session:<token hash> that expires with the session; a per-user set
// tracks the hashes so every session of a user can be revoked at once.
// Revoked sessions are deleted rather than flagged.
type RedisSessionIssuer struct {
	client *redis.Client
	config SessionConfig
	now    func() time.Time
}

// NewRedisSessionIssuer creates a Redis-backed session issuer.
func NewRedisSessionIssuer(client *redis.Client, config SessionConfig) *RedisSessionIssuer {
	return &RedisSessionIssuer{client: client, config: config.withDefaults(), now: time.Now}
}

func sessionKey(tokenHash string) string {
	return fmt.Sprintf("session:%s", tokenHash)
}

func userSessionsKey(userID uuid.UUID) string {
	return fmt.Sprintf("user_sessions:%s", userID.String())
}

// Issue stores a new session and returns its token.
func (s *RedisSessionIssuer) Issue(ctx context.Context, userID uuid.UUID, persistent bool) (*domain.SessionRef, error) {
	token, err := GenerateToken(sessionTokenLen)
	if err != nil {
		return nil, err
	}
	tokenHash := HashToken(token)

	now := s.now()
	ttl := s.config.lifetime(persistent)
	sessionID := uuid.New()

	fields := map[string]interface{}{
		"id":         sessionID.String(),
		"user_id":    userID.String(),
		"persistent": strconv.FormatBool(persistent),
		"created_at": now.Unix(),
		"expires_at": now.Add(ttl).Unix(),
	}
	if metadata := requestMetadata(ctx); metadata != nil {
		fields["metadata"] = string(metadata)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, sessionKey(tokenHash), fields)
	pipe.Expire(ctx, sessionKey(tokenHash), ttl)
	pipe.SAdd(ctx, userSessionsKey(userID), tokenHash)
	// The set must outlive the longest session it can reference.
	pipe.Expire(ctx, userSessionsKey(userID), s.config.RememberMeTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: failed to store session: %w", domain.ErrStoreUnavailable, err)
	}

	return &domain.SessionRef{
		ID:         sessionID,
		UserID:     userID,
		Token:      token,
		TokenType:  "Session",
		Persistent: persistent,
		ExpiresAt:  now.Add(ttl),
	}, nil
}

// Revoke deletes the session. Unknown tokens are ignored.
func (s *RedisSessionIssuer) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	tokenHash := HashToken(token)

	userID, err := s.client.HGet(ctx, sessionKey(tokenHash), "user_id").Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: failed to load session: %w", domain.ErrStoreUnavailable, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(tokenHash))
	if id, err := uuid.Parse(userID); err == nil {
		pipe.SRem(ctx, userSessionsKey(id), tokenHash)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: failed to revoke session: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeAll deletes every session of userID.
func (s *RedisSessionIssuer) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	hashes, err := s.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: failed to list sessions: %w", domain.ErrStoreUnavailable, err)
	}

	pipe := s.client.TxPipeline()
	for _, h := range hashes {
		pipe.Del(ctx, sessionKey(h))
	}
	pipe.Del(ctx, userSessionsKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: failed to revoke sessions: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Resolve returns the user of a live session.
func (s *RedisSessionIssuer) Resolve(ctx context.Context, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, domain.ErrSessionNotFound
	}

	fields, err := s.client.HGetAll(ctx, sessionKey(HashToken(token))).Result()
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: failed to load session: %w", domain.ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return uuid.Nil, domain.ErrSessionNotFound
	}

	// The key TTL normally removes it first.
	if exp, err := strconv.ParseInt(fields["expires_at"], 10, 64); err == nil && !s.now().Before(time.Unix(exp, 0)) {
		return uuid.Nil, domain.ErrSessionExpired
	}

	userID, err := uuid.Parse(fields["user_id"])
	if err != nil {
		return uuid.Nil, domain.ErrSessionNotFound
	}
	return userID, nil
}
