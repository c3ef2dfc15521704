// Package memory provides an in-process store used by tests and by
// single-instance development deployments.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/identity-manager/pkg/domain"
)

// Store keeps users, credentials, verification tokens and sessions in maps
// guarded by one mutex. Every method is atomic with respect to the others,
// which is the same guarantee the Postgres store gets from row updates.
type Store struct {
	mu sync.Mutex

	users        map[uuid.UUID]*domain.User
	usersByEmail map[string]uuid.UUID
	passwords    map[uuid.UUID]*domain.UserPassword
	tokens       map[uuid.UUID]*domain.VerificationToken
	tokensByHash map[string]uuid.UUID
	sessions     map[uuid.UUID]*domain.Session
	sessionsHash map[string]uuid.UUID

	now func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:        make(map[uuid.UUID]*domain.User),
		usersByEmail: make(map[string]uuid.UUID),
		passwords:    make(map[uuid.UUID]*domain.UserPassword),
		tokens:       make(map[uuid.UUID]*domain.VerificationToken),
		tokensByHash: make(map[string]uuid.UUID),
		sessions:     make(map[uuid.UUID]*domain.Session),
		sessionsHash: make(map[string]uuid.UUID),
		now:          time.Now,
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func copyUser(u *domain.User) *domain.User {
	c := *u
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		c.LockedUntil = &t
	}
	return &c
}

// CreateUser stores user and its password hash.
func (s *Store) CreateUser(ctx context.Context, user *domain.User, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := emailKey(user.Email)
	if _, ok := s.usersByEmail[key]; ok {
		return domain.ErrUserAlreadyExists
	}
	if _, ok := s.users[user.ID]; ok {
		return domain.ErrUserAlreadyExists
	}

	now := s.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}

	s.users[user.ID] = copyUser(user)
	s.usersByEmail[key] = user.ID
	s.passwords[user.ID] = &domain.UserPassword{
		UserID:            user.ID,
		PasswordHash:      passwordHash,
		PasswordUpdatedAt: now,
	}
	return nil
}

// GetUserByID returns a copy of the user.
func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, domain.ErrUserNotFound
	}
	return copyUser(u), nil
}

// GetUserByEmail looks the user up case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersByEmail[emailKey(email)]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	u := s.users[id]
	if u.DeletedAt != nil {
		return nil, domain.ErrUserNotFound
	}
	return copyUser(u), nil
}

// UpdateUser replaces the profile fields of an existing user. Lockout fields
// are owned by RecordFailedLogin and ResetFailedLogins and are not touched.
func (s *Store) UpdateUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok || existing.DeletedAt != nil {
		return domain.ErrUserNotFound
	}

	key := emailKey(user.Email)
	if owner, ok := s.usersByEmail[key]; ok && owner != user.ID {
		return domain.ErrUserAlreadyExists
	}
	delete(s.usersByEmail, emailKey(existing.Email))
	s.usersByEmail[key] = user.ID

	existing.Email = user.Email
	existing.Name = user.Name
	existing.EmailVerified = user.EmailVerified
	existing.UpdatedAt = s.now()
	return nil
}

// SetEmailVerified marks the user's email as confirmed.
func (s *Store) SetEmailVerified(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok || u.DeletedAt != nil {
		return domain.ErrUserNotFound
	}
	u.EmailVerified = true
	u.UpdatedAt = s.now()
	return nil
}

// GetPasswordHash returns the stored hash.
func (s *Store) GetPasswordHash(ctx context.Context, userID uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.passwords[userID]
	if !ok {
		return "", domain.ErrUserNotFound
	}
	return p.PasswordHash, nil
}

// SetPasswordHash replaces the stored hash.
func (s *Store) SetPasswordHash(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return domain.ErrUserNotFound
	}
	s.passwords[userID] = &domain.UserPassword{
		UserID:            userID,
		PasswordHash:      passwordHash,
		PasswordUpdatedAt: s.now(),
	}
	return nil
}

// RecordFailedLogin applies one failed attempt under the store lock.
func (s *Store) RecordFailedLogin(ctx context.Context, userID uuid.UUID, now time.Time, policy domain.LockoutPolicy) (domain.LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok || u.DeletedAt != nil {
		return domain.LockoutState{}, domain.ErrUserNotFound
	}

	switch {
	case u.IsLockedAt(now):
		// A concurrent request already locked the account.
	case u.LockedUntil != nil:
		// The previous lock elapsed; this failure starts a new window.
		u.FailedLoginAttempts = 1
		u.LockedUntil = nil
	default:
		u.FailedLoginAttempts++
	}

	if u.LockedUntil == nil && u.FailedLoginAttempts >= policy.MaxFailedAttempts {
		u.FailedLoginAttempts = policy.MaxFailedAttempts
		until := now.Add(policy.Duration)
		u.LockedUntil = &until
	}
	u.UpdatedAt = now

	state := domain.LockoutState{FailedAttempts: u.FailedLoginAttempts}
	if u.LockedUntil != nil {
		until := *u.LockedUntil
		state.LockedUntil = &until
	}
	return state, nil
}

// ResetFailedLogins clears the counter and any lock.
func (s *Store) ResetFailedLogins(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok || u.DeletedAt != nil {
		return domain.ErrUserNotFound
	}
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	u.UpdatedAt = s.now()
	return nil
}

// CreateToken stores token and retires the user's other active tokens of
// the same kind.
func (s *Store) CreateToken(ctx context.Context, token *domain.VerificationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, t := range s.tokens {
		if t.UserID == token.UserID && t.Kind == token.Kind && t.ConsumedAt == nil {
			consumed := now
			t.ConsumedAt = &consumed
		}
	}

	c := *token
	s.tokens[token.ID] = &c
	s.tokensByHash[token.TokenHash] = token.ID
	return nil
}

// GetTokenByHash returns a copy of the token.
func (s *Store) GetTokenByHash(ctx context.Context, tokenHash string) (*domain.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.tokensByHash[tokenHash]
	if !ok {
		return nil, domain.ErrVerificationTokenNotFound
	}
	c := *s.tokens[id]
	return &c, nil
}

// ConsumeToken marks the token consumed once.
func (s *Store) ConsumeToken(ctx context.Context, tokenID uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenID]
	if !ok {
		return false, domain.ErrVerificationTokenNotFound
	}
	if t.ConsumedAt != nil {
		return false, nil
	}
	t.ConsumedAt = &now
	return true, nil
}

// ConsumeTokenAndSetPassword checks both records before changing either.
func (s *Store) ConsumeTokenAndSetPassword(ctx context.Context, tokenID, userID uuid.UUID, passwordHash string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenID]
	if !ok {
		return false, domain.ErrVerificationTokenNotFound
	}
	if t.ConsumedAt != nil {
		return false, nil
	}
	if _, ok := s.users[userID]; !ok {
		return false, domain.ErrUserNotFound
	}

	t.ConsumedAt = &now
	s.passwords[userID] = &domain.UserPassword{
		UserID:            userID,
		PasswordHash:      passwordHash,
		PasswordUpdatedAt: now,
	}
	return true, nil
}

// CreateSession stores a session record.
func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *session
	s.sessions[session.ID] = &c
	s.sessionsHash[session.TokenHash] = session.ID
	return nil
}

// GetSessionByTokenHash returns an unrevoked session.
func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.sessionsHash[tokenHash]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	sess := s.sessions[id]
	if sess.RevokedAt != nil {
		return nil, domain.ErrSessionNotFound
	}
	c := *sess
	return &c, nil
}

// GetSessionByID returns the session including revoked ones.
func (s *Store) GetSessionByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	c := *sess
	return &c, nil
}

// RevokeSessionByTokenHash revokes the matching session if any.
func (s *Store) RevokeSessionByTokenHash(ctx context.Context, tokenHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.sessionsHash[tokenHash]
	if !ok {
		return nil
	}
	if sess := s.sessions[id]; sess.RevokedAt == nil {
		sess.RevokedAt = &now
	}
	return nil
}

// RevokeUserSessions revokes every active session of the user.
func (s *Store) RevokeUserSessions(ctx context.Context, userID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.RevokedAt == nil {
			revoked := now
			sess.RevokedAt = &revoked
		}
	}
	return nil
}

// TouchSession records activity on a session.
func (s *Store) TouchSession(ctx context.Context, sessionID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess.LastSeenAt = &now
	return nil
}

// Cleanup deletes sessions and tokens that expired before cutoff.
func (s *Store) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, sess := range s.sessions {
		if sess.ExpiresAt.Before(cutoff) {
			delete(s.sessionsHash, sess.TokenHash)
			delete(s.sessions, id)
			n++
		}
	}
	for id, t := range s.tokens {
		if t.ExpiresAt.Before(cutoff) {
			delete(s.tokensByHash, t.TokenHash)
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}
