package notification

import (
	"context"
	"log/slog"
)

// LogSender writes notifications to the log instead of delivering them.
// It is used when no SMTP host is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a log sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs the message. The body carries live tokens, so it is only
// logged at debug level.
func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.InfoContext(ctx, "notification not delivered, no SMTP configured", "to", to, "subject", subject)
	s.logger.DebugContext(ctx, "notification body", "to", to, "body", body)
	return nil
}
