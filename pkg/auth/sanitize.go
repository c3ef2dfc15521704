package auth

import (
	"fmt"
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tendant/identity-manager/pkg/domain"
)

const maxNameLength = 100

// SanitizeName sanitizes a name field (unicode-friendly, allows letters and spaces).
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = removeControlChars(name)
	return html.EscapeString(name)
}

// ValidateName checks the display name given at registration. The raw
// value is validated; callers store SanitizeName(name).
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &domain.ValidationError{Field: "name", Message: "name is required", Err: domain.ErrMissingField}
	}
	return ValidateStringLength("name", strings.TrimSpace(name), 1, maxNameLength)
}

// ValidateStringLength validates that a string is within the specified
// length constraints, counted in characters.
func ValidateStringLength(field, value string, min, max int) error {
	length := utf8.RuneCountInString(value)

	if min > 0 && length < min {
		return &domain.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s must be at least %d characters long", field, min),
			Err:     domain.ErrInvalidName,
		}
	}

	if max > 0 && length > max {
		return &domain.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s must be at most %d characters long", field, max),
			Err:     domain.ErrInvalidName,
		}
	}

	return nil
}

// removeControlChars removes control characters except newline and tab.
func removeControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
