package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Authentication errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked due to too many failed login attempts")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
	ErrSessionRevoked     = errors.New("session revoked")
	ErrInvalidToken       = errors.New("invalid token")
)

// Verification token errors. Every one of them also matches
// ErrInvalidOrExpiredToken through *TokenError.
var (
	ErrInvalidOrExpiredToken         = errors.New("invalid or expired token")
	ErrVerificationTokenNotFound     = errors.New("verification token not found")
	ErrVerificationTokenExpired      = errors.New("verification token expired")
	ErrVerificationTokenConsumed     = errors.New("verification token already used")
	ErrVerificationTokenWrongPurpose = errors.New("verification token issued for another purpose")
	ErrVerificationTokenUserMismatch = errors.New("verification token issued for another user")
)

// Validation errors
var (
	ErrValidation   = errors.New("validation failed")
	ErrInvalidEmail = errors.New("invalid email address")
	ErrInvalidName  = errors.New("invalid name")
	ErrWeakPassword = errors.New("password does not meet requirements")
	ErrMissingField = errors.New("required field missing")
)

// Infrastructure errors
var (
	ErrStoreUnavailable = errors.New("credential store unavailable")
	ErrSendFailed       = errors.New("notification send failed")
)

// ValidationError describes a single field-level input problem.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ValidationErrors collects the field errors of one request.
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, 0, len(v))
	for _, e := range v {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes the individual field errors to errors.Is and errors.As.
func (v ValidationErrors) Unwrap() []error {
	errs := make([]error, 0, len(v))
	for _, e := range v {
		errs = append(errs, e)
	}
	return errs
}

// Fields returns the messages keyed by field. When a field has several
// problems the first one wins.
func (v ValidationErrors) Fields() map[string]string {
	fields := make(map[string]string, len(v))
	for _, e := range v {
		if _, ok := fields[e.Field]; !ok {
			fields[e.Field] = e.Message
		}
	}
	return fields
}

// FieldNames returns the sorted names of the invalid fields.
func (v ValidationErrors) FieldNames() []string {
	names := make([]string, 0, len(v))
	for field := range v.Fields() {
		names = append(names, field)
	}
	sort.Strings(names)
	return names
}

// Err returns nil for an empty collection.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// LockedOutError is returned by login while the account is locked.
type LockedOutError struct {
	Until time.Time
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("%s until %s", ErrAccountLocked, e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedOutError) Unwrap() error {
	return ErrAccountLocked
}

// TokenError reports why a verification token was rejected.
type TokenError struct {
	Reason error
}

func (e *TokenError) Error() string {
	return e.Reason.Error()
}

func (e *TokenError) Unwrap() error {
	return e.Reason
}

// Is makes every TokenError match ErrInvalidOrExpiredToken.
func (e *TokenError) Is(target error) bool {
	return target == ErrInvalidOrExpiredToken
}

// NewTokenError wraps one of the ErrVerificationToken* reasons.
func NewTokenError(reason error) error {
	return &TokenError{Reason: reason}
}
