package auth

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/tendant/identity-manager/pkg/domain"
)

// Common disposable email domains to block (can be extended)
var disposableDomains = map[string]bool{
	"tempmail.com":      true,
	"10minutemail.com":  true,
	"guerrillamail.com": true,
	"mailinator.com":    true,
	"throwaway.email":   true,
}

// Email validation regex (stricter than RFC 5322 for practical use)
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

const maxEmailLength = 254 // RFC 5321

// ValidateEmail validates an email address for format and length.
// Failures are *domain.ValidationError values wrapping domain.ErrInvalidEmail.
func ValidateEmail(email string, strict bool, blockDisposable bool) error {
	if strings.TrimSpace(email) == "" {
		return emailError("email address is required")
	}

	if len(email) > maxEmailLength {
		return emailError(fmt.Sprintf("email address is too long (max %d characters)", maxEmailLength))
	}

	normalized := NormalizeEmail(email)

	// mail.ParseAddress accepts display names; only a bare address is allowed.
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return emailError("invalid email address format")
	}

	if strict && !emailRegex.MatchString(addr.Address) {
		return emailError("invalid email address format")
	}

	if blockDisposable {
		domain := getDomain(addr.Address)
		if disposableDomains[strings.ToLower(domain)] {
			return emailError("disposable email addresses are not allowed")
		}
	}

	return nil
}

// NormalizeEmail normalizes an email address by lowercasing and trimming.
// Email comparison is case-insensitive everywhere because of this.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// getDomain extracts the domain from an email address.
func getDomain(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

func emailError(msg string) error {
	return &domain.ValidationError{Field: "email", Message: msg, Err: domain.ErrInvalidEmail}
}
