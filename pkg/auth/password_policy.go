package auth

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tendant/identity-manager/internal/config"
	"github.com/tendant/identity-manager/pkg/domain"
)

// PasswordPolicy defines password complexity requirements.
type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// NewPasswordPolicy creates a PasswordPolicy from config.
func NewPasswordPolicy(cfg config.PasswordPolicyConfig) *PasswordPolicy {
	return &PasswordPolicy{
		MinLength:        cfg.MinLength,
		RequireUppercase: cfg.RequireUppercase,
		RequireLowercase: cfg.RequireLowercase,
		RequireNumber:    cfg.RequireNumber,
		RequireSpecial:   cfg.RequireSpecial,
	}
}

// DefaultPasswordPolicy requires five characters including a lowercase
// letter.
func DefaultPasswordPolicy() *PasswordPolicy {
	return &PasswordPolicy{
		MinLength:        5,
		RequireLowercase: true,
	}
}

// ValidatePassword checks if a password meets the policy requirements.
// Every violated rule is reported as a "password" field error wrapping
// domain.ErrWeakPassword.
func (p *PasswordPolicy) ValidatePassword(password string) error {
	var errs domain.ValidationErrors
	violate := func(format string, args ...any) {
		errs = append(errs, &domain.ValidationError{
			Field:   "password",
			Message: fmt.Sprintf(format, args...),
			Err:     domain.ErrWeakPassword,
		})
	}

	if p.MinLength > 0 && utf8.RuneCountInString(password) < p.MinLength {
		violate("password must be at least %d characters long", p.MinLength)
	}
	if p.RequireUppercase && !containsUppercase(password) {
		violate("password must contain at least one uppercase letter")
	}
	if p.RequireLowercase && !containsLowercase(password) {
		violate("password must contain at least one lowercase letter")
	}
	if p.RequireNumber && !containsNumber(password) {
		violate("password must contain at least one number")
	}
	if p.RequireSpecial && !containsSpecial(password) {
		violate("password must contain at least one special character")
	}

	return errs.Err()
}

// GetRequirements returns a human-readable description of the policy.
func (p *PasswordPolicy) GetRequirements() string {
	if !p.HasRequirements() {
		return "No password requirements"
	}

	var requirements []string

	if p.MinLength > 0 {
		requirements = append(requirements, fmt.Sprintf("at least %d characters", p.MinLength))
	}
	if p.RequireUppercase {
		requirements = append(requirements, "one uppercase letter")
	}
	if p.RequireLowercase {
		requirements = append(requirements, "one lowercase letter")
	}
	if p.RequireNumber {
		requirements = append(requirements, "one number")
	}
	if p.RequireSpecial {
		requirements = append(requirements, "one special character")
	}

	return "Password must contain " + strings.Join(requirements, ", ")
}

// HasRequirements returns true if the policy has any requirements.
func (p *PasswordPolicy) HasRequirements() bool {
	return p.MinLength > 0 || p.RequireUppercase || p.RequireLowercase || p.RequireNumber || p.RequireSpecial
}

// containsUppercase checks if string contains at least one uppercase letter.
func containsUppercase(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

// containsLowercase checks if string contains at least one lowercase letter.
func containsLowercase(s string) bool {
	for _, r := range s {
		if unicode.IsLower(r) {
			return true
		}
	}
	return false
}

// containsNumber checks if string contains at least one digit.
func containsNumber(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// containsSpecial checks if string contains at least one special character.
func containsSpecial(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			return true
		}
	}
	return false
}
