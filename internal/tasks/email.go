// Package tasks holds the application's task definitions. Each
// definition pairs a typed payload with a handler and is registered
// against the shared registry at startup, before the dispatcher starts.
package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conveyorhq/conveyor/internal/platform/logger"
	"github.com/conveyorhq/conveyor/internal/task"
)

// TaskSendEmail is the registered name of the send-email task.
const TaskSendEmail = "send-email"

// EmailSender delivers a single email. Implementations wrap whatever
// transport is configured (SMTP relay, provider API).
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SendEmailPayload is the input schema of the send-email task.
type SendEmailPayload struct {
	To      string `json:"to"      validate:"required,email"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body"`
}

// RegisterSendEmail registers the send-email task. Delivery failures are
// returned as-is so transient relay problems retry with backoff; an
// invalid recipient never reaches the handler because the payload schema
// rejects it at enqueue and again at dispatch.
func RegisterSendEmail(registry *task.Registry, sender EmailSender) error {
	return task.Define(registry, TaskSendEmail,
		func(ctx context.Context, payload SendEmailPayload) error {
			log := logger.FromContext(ctx)

			if err := sender.Send(ctx, payload.To, payload.Subject, payload.Body); err != nil {
				return fmt.Errorf("send email to %s: %w", payload.To, err)
			}

			log.Info("email sent", slog.String("to", payload.To))
			return nil
		})
}
