package main

import (
	"context"
	"log/slog"
)

// logSender is the default EmailSender: it records deliveries in the log
// instead of sending them. Deployments with a real relay replace it when
// wiring the application.
type logSender struct {
	logger *slog.Logger
}

func newLogSender(logger *slog.Logger) *logSender {
	return &logSender{
		logger: logger.With(slog.String("component", "log_sender")),
	}
}

func (s *logSender) Send(_ context.Context, to, subject, _ string) error {
	s.logger.Info("email delivery (log transport)",
		slog.String("to", to),
		slog.String("subject", subject))
	return nil
}
