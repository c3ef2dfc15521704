package auth

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// message is an outgoing notification.
type message struct {
	Subject string
	Body    string
}

// ConfirmEmailLink builds the link mailed after registration.
func ConfirmEmailLink(baseURL string, userID uuid.UUID, token string) string {
	return fmt.Sprintf("%s/auth/confirm-email?user_id=%s&token=%s",
		strings.TrimRight(baseURL, "/"), url.QueryEscape(userID.String()), url.QueryEscape(token))
}

// ResetPasswordLink builds the link mailed by forgot-password.
func ResetPasswordLink(baseURL, email, token string) string {
	return fmt.Sprintf("%s/auth/reset-password?email=%s&token=%s",
		strings.TrimRight(baseURL, "/"), url.QueryEscape(email), url.QueryEscape(token))
}

func confirmationMessage(link string, ttl time.Duration) message {
	escaped := html.EscapeString(link)
	return message{
		Subject: "Confirm your email",
		Body: fmt.Sprintf(`<html><body>
		<h2>Confirm Your Email Address</h2>
		<p>Thank you for registering! Please confirm your account.</p>
		<p><a href="%s">Click here to confirm your email</a></p>
		<p>Or copy this link to your browser: %s</p>
		<p>This link will expire in %s.</p>
	</body></html>`, escaped, escaped, humanDuration(ttl)),
	}
}

func resetPasswordMessage(link string, ttl time.Duration) message {
	escaped := html.EscapeString(link)
	return message{
		Subject: "Reset Password",
		Body: fmt.Sprintf(`<html><body>
		<h2>Reset Your Password</h2>
		<p>A password reset has been requested for your account.</p>
		<p><a href="%s">Click here to reset your password</a></p>
		<p>Or copy this link to your browser: %s</p>
		<p>This link will expire in %s.</p>
		<p>If you did not request this password reset, please ignore this email.</p>
	</body></html>`, escaped, escaped, humanDuration(ttl)),
	}
}

// humanDuration renders whole hours or minutes, e.g. "24 hours".
func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
