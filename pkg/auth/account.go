package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/identity-manager/pkg/domain"
)

// Default account lifecycle settings.
const (
	DefaultEmailConfirmationTTL = 24 * time.Hour
	DefaultPasswordResetTTL     = time.Hour
	DefaultNotifyTimeout        = 10 * time.Second
	DefaultMinResponseDuration  = 250 * time.Millisecond
)

// AccountConfig configures the account lifecycle.
type AccountConfig struct {
	// RequireConfirmedAccount blocks sign-in until the email is confirmed
	// and skips the session issued at registration.
	RequireConfirmedAccount bool
	EmailConfirmationTTL    time.Duration
	PasswordResetTTL        time.Duration
	// AppBaseURL prefixes the links placed in notifications.
	AppBaseURL string
	// NotifyTimeout bounds a single notification send.
	NotifyTimeout time.Duration
	// MinResponseDuration pads forgot-password and resend-confirmation so
	// known and unknown emails take the same time.
	MinResponseDuration time.Duration
	StrictEmail         bool
	BlockDisposable     bool
}

// AccountDeps are the collaborators of AccountService.
type AccountDeps struct {
	Store    CredentialStore
	Hasher   PasswordHasher
	Tokens   *TokenIssuer
	Lockout  *LockoutTracker
	Sessions SessionIssuer
	Notifier NotificationSender
	Policy   *PasswordPolicy
	Logger   *slog.Logger
}

// RegisterResult is returned by Register. Session is nil when confirmed
// accounts are required.
type RegisterResult struct {
	UserID uuid.UUID
	// ConfirmationRequired is set when the account cannot sign in until the
	// email is confirmed.
	ConfirmationRequired bool
	// Session is nil when confirmation is required or issuing it failed.
	Session *domain.SessionRef
}

// AccountService orchestrates registration, email confirmation, login,
// logout and password recovery.
type AccountService struct {
	config   AccountConfig
	store    CredentialStore
	hasher   PasswordHasher
	tokens   *TokenIssuer
	lockout  *LockoutTracker
	sessions SessionIssuer
	notifier NotificationSender
	policy   *PasswordPolicy
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)

	dummyOnce sync.Once
	dummyHash string
}

// NewAccountService wires the account lifecycle. Tokens and Lockout default
// to instances backed by Store when it also implements the required store
// interfaces.
func NewAccountService(config AccountConfig, deps AccountDeps) *AccountService {
	if config.EmailConfirmationTTL == 0 {
		config.EmailConfirmationTTL = DefaultEmailConfirmationTTL
	}
	if config.PasswordResetTTL == 0 {
		config.PasswordResetTTL = DefaultPasswordResetTTL
	}
	if config.NotifyTimeout == 0 {
		config.NotifyTimeout = DefaultNotifyTimeout
	}
	if deps.Hasher == nil {
		deps.Hasher = NewArgon2Hasher()
	}
	if deps.Policy == nil {
		deps.Policy = DefaultPasswordPolicy()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tokens == nil {
		if ts, ok := deps.Store.(TokenStore); ok {
			deps.Tokens = NewTokenIssuer(ts)
		}
	}
	if deps.Lockout == nil {
		if ls, ok := deps.Store.(LockoutStore); ok {
			deps.Lockout = NewLockoutTracker(ls, domain.DefaultLockoutPolicy())
		}
	}

	return &AccountService{
		config:   config,
		store:    deps.Store,
		hasher:   deps.Hasher,
		tokens:   deps.Tokens,
		lockout:  deps.Lockout,
		sessions: deps.Sessions,
		notifier: deps.Notifier,
		policy:   deps.Policy,
		logger:   deps.Logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// PasswordRequirements describes the active password policy.
func (s *AccountService) PasswordRequirements() string {
	return s.policy.GetRequirements()
}

// Register creates an unconfirmed account, mails a confirmation link and,
// unless confirmed accounts are required, signs the user in.
func (s *AccountService) Register(ctx context.Context, email, password, name string) (*RegisterResult, error) {
	email = NormalizeEmail(email)

	var verrs domain.ValidationErrors
	collectValidation(&verrs, ValidateEmail(email, s.config.StrictEmail, s.config.BlockDisposable))
	collectValidation(&verrs, ValidateName(name))
	collectValidation(&verrs, s.policy.ValidatePassword(password))
	if err := verrs.Err(); err != nil {
		return nil, err
	}
	name = SanitizeName(name)

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &domain.User{
		ID:            uuid.New(),
		Email:         email,
		Name:          name,
		EmailVerified: false,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateUser(ctx, user, hash); err != nil {
		return nil, err
	}

	s.logger.Info("user registered", "user_id", user.ID)

	if err := s.sendConfirmation(ctx, user); err != nil {
		return nil, err
	}

	result := &RegisterResult{
		UserID:               user.ID,
		ConfirmationRequired: s.config.RequireConfirmedAccount,
	}
	if !s.config.RequireConfirmedAccount {
		session, err := s.sessions.Issue(ctx, user.ID, false)
		if err != nil {
			s.logger.Error("failed to issue session after registration", "user_id", user.ID, "error", err)
			return result, nil
		}
		result.Session = session
	}
	return result, nil
}

// ConfirmEmail spends an email confirmation token and marks the address as
// confirmed.
func (s *AccountService) ConfirmEmail(ctx context.Context, userID uuid.UUID, token string) error {
	vt, err := s.tokens.Validate(ctx, userID, domain.TokenKindEmailConfirmation, token)
	if err != nil {
		return err
	}
	if err := s.tokens.Consume(ctx, vt); err != nil {
		return err
	}
	if err := s.store.SetEmailVerified(ctx, userID); err != nil {
		return err
	}

	s.logger.Info("email confirmed", "user_id", userID)
	return nil
}

// ResendConfirmation mails a fresh confirmation link to an unconfirmed
// account. It never reports whether the email is registered.
func (s *AccountService) ResendConfirmation(ctx context.Context, email string) {
	defer s.pad(ctx, s.now())

	user, err := s.store.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			s.logger.Error("resend confirmation lookup failed", "error", err)
		}
		return
	}
	if user.EmailVerified {
		return
	}
	if err := s.sendConfirmation(ctx, user); err != nil {
		s.logger.Error("resend confirmation failed", "user_id", user.ID, "error", err)
	}
}

// Login authenticates by email and password. Outcomes are
// domain.ErrInvalidCredentials, *domain.LockedOutError and
// domain.ErrEmailNotConfirmed; an unknown email is indistinguishable from a
// wrong password.
func (s *AccountService) Login(ctx context.Context, email, password string, rememberMe bool) (*domain.SessionRef, error) {
	user, err := s.store.GetUserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, domain.ErrUserNotFound) {
		s.verifyDummy(password)
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := s.lockout.Check(user); err != nil {
		s.logger.Info("login rejected, account locked", "user_id", user.ID)
		return nil, err
	}

	hash, err := s.store.GetPasswordHash(ctx, user.ID)
	if errors.Is(err, domain.ErrUserNotFound) {
		s.verifyDummy(password)
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if !s.hasher.Verify(password, hash) {
		if err := s.lockout.RecordFailure(ctx, user.ID); err != nil {
			var locked *domain.LockedOutError
			if errors.As(err, &locked) {
				s.logger.Warn("account locked", "user_id", user.ID, "until", locked.Until)
			}
			return nil, err
		}
		return nil, domain.ErrInvalidCredentials
	}

	if err := s.lockout.RecordSuccess(ctx, user.ID); err != nil {
		return nil, err
	}

	if s.config.RequireConfirmedAccount && !user.EmailVerified {
		return nil, domain.ErrEmailNotConfirmed
	}

	session, err := s.sessions.Issue(ctx, user.ID, rememberMe)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}

	s.logger.Info("user logged in", "user_id", user.ID, "persistent", rememberMe)
	return session, nil
}

// Logout revokes the session. Revoking an unknown or already revoked
// session succeeds.
func (s *AccountService) Logout(ctx context.Context, sessionToken string) error {
	if sessionToken == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, sessionToken)
}

// ForgotPassword mails a reset link when the email is registered. The
// caller always sees success.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) {
	defer s.pad(ctx, s.now())

	email = NormalizeEmail(email)
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			s.logger.Error("forgot password lookup failed", "error", err)
		}
		return
	}

	issued, err := s.tokens.Issue(ctx, user.ID, domain.TokenKindPasswordReset, s.config.PasswordResetTTL)
	if err != nil {
		s.logger.Error("failed to issue password reset token", "user_id", user.ID, "error", err)
		return
	}

	link := ResetPasswordLink(s.config.AppBaseURL, user.Email, issued.Value)
	s.notify(ctx, user, resetPasswordMessage(link, s.config.PasswordResetTTL))
}

// ResetPassword replaces the password using a reset token. On success the
// token is spent, the lockout is cleared and existing sessions are revoked
// when the session issuer supports it.
func (s *AccountService) ResetPassword(ctx context.Context, email, token, newPassword string) error {
	if err := s.policy.ValidatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.store.GetUserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.NewTokenError(domain.ErrVerificationTokenNotFound)
	}
	if err != nil {
		return err
	}

	vt, err := s.tokens.Validate(ctx, user.ID, domain.TokenKindPasswordReset, token)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.tokens.ConsumeAndSetPassword(ctx, vt, s.store, hash); err != nil {
		return err
	}
	if err := s.lockout.RecordSuccess(ctx, user.ID); err != nil {
		return err
	}

	if revoker, ok := s.sessions.(SessionRevoker); ok {
		if err := revoker.RevokeAll(ctx, user.ID); err != nil {
			s.logger.Error("failed to revoke sessions after password reset", "user_id", user.ID, "error", err)
		}
	}

	s.logger.Info("password reset", "user_id", user.ID)
	return nil
}

// GetUser returns the account for an authenticated user.
func (s *AccountService) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.store.GetUserByID(ctx, userID)
}

// sendConfirmation issues a confirmation token and mails it. Delivery
// failures are logged and swallowed; token storage failures are returned.
func (s *AccountService) sendConfirmation(ctx context.Context, user *domain.User) error {
	issued, err := s.tokens.Issue(ctx, user.ID, domain.TokenKindEmailConfirmation, s.config.EmailConfirmationTTL)
	if err != nil {
		return fmt.Errorf("failed to issue confirmation token: %w", err)
	}

	link := ConfirmEmailLink(s.config.AppBaseURL, user.ID, issued.Value)
	s.notify(ctx, user, confirmationMessage(link, s.config.EmailConfirmationTTL))
	return nil
}

func (s *AccountService) notify(ctx context.Context, user *domain.User, msg message) {
	if s.notifier == nil {
		s.logger.Warn("no notification sender configured", "user_id", user.ID, "subject", msg.Subject)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.NotifyTimeout)
	defer cancel()

	if err := s.notifier.Send(ctx, user.Email, msg.Subject, msg.Body); err != nil {
		s.logger.Error("failed to send notification", "user_id", user.ID, "subject", msg.Subject, "error", err)
	}
}

// verifyDummy spends the same hashing work as a real verification.
func (s *AccountService) verifyDummy(password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("dummy-password-for-timing")
		if err != nil {
			s.logger.Error("failed to compute dummy hash", "error", err)
			return
		}
		s.dummyHash = hash
	})
	if s.dummyHash != "" {
		s.hasher.Verify(password, s.dummyHash)
	}
}

// pad sleeps until MinResponseDuration has passed since start.
func (s *AccountService) pad(ctx context.Context, start time.Time) {
	if s.config.MinResponseDuration <= 0 {
		return
	}
	if remaining := s.config.MinResponseDuration - s.now().Sub(start); remaining > 0 {
		s.sleep(ctx, remaining)
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func collectValidation(dst *domain.ValidationErrors, err error) {
	if err == nil {
		return
	}
	var many domain.ValidationErrors
	if errors.As(err, &many) {
		*dst = append(*dst, many...)
		return
	}
	var one *domain.ValidationError
	if errors.As(err, &one) {
		*dst = append(*dst, one)
	}
}
