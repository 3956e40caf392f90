// Package notify delivers execution completion notices.
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/ErlanBelekov/run-orchestrator/internal/domain"
	"github.com/resend/resend-go/v2"
)

type Notifier interface {
	Notify(ctx context.Context, s *domain.Schedule, e *domain.Execution) error
}

// LogNotifier logs completions instead of delivering them. Used in ENV=local.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

func (n *LogNotifier) Notify(ctx context.Context, s *domain.Schedule, e *domain.Execution) error {
	n.logger.InfoContext(ctx, "execution finished",
		"schedule_id", s.ID,
		"execution_id", e.ID,
		"status", e.Status,
		"triggered_by", e.TriggeredBy,
		"failed_requests", e.FailedRequests,
	)
	return nil
}

// ResendNotifier e-mails failed executions via the Resend API. Used in staging/production.
type ResendNotifier struct {
	client *resend.Client
	from   string
	to     []string
}

func (n *ResendNotifier) Notify(ctx context.Context, s *domain.Schedule, e *domain.Execution) error {
	if e.Status != domain.ExecutionFailed || len(n.to) == 0 {
		return nil
	}
	subject, body := render(s, e)
	params := &resend.SendEmailRequest{
		From:    n.from,
		To:      n.to,
		Subject: subject,
		Html:    body,
	}
	if _, err := n.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// NewNotifier returns a LogNotifier for ENV=local, ResendNotifier otherwise.
func NewNotifier(env, apiKey, from string, to []string, logger *slog.Logger) Notifier {
	if env == "local" {
		return NewLogNotifier(logger)
	}
	return &ResendNotifier{
		client: resend.NewClient(apiKey),
		from:   from,
		to:     to,
	}
}

func render(s *domain.Schedule, e *domain.Execution) (string, string) {
	name := s.Name
	if name == "" {
		name = s.ID
	}
	subject := fmt.Sprintf("Scheduled run %q failed", name)

	var b strings.Builder
	fmt.Fprintf(&b, "<p>Execution <code>%s</code> of schedule <b>%s</b> failed.</p>", html.EscapeString(e.ID), html.EscapeString(name))
	fmt.Fprintf(&b, "<p>Trigger: %s, requests: %d passed / %d failed / %d total.</p>",
		e.TriggeredBy, e.PassedRequests, e.FailedRequests, e.TotalRequests)
	if msg := e.Metadata.Error(); msg != "" {
		fmt.Fprintf(&b, "<p>Error: %s</p>", html.EscapeString(msg))
	}
	if next, ok := e.Metadata.NextRetryAt(); ok {
		fmt.Fprintf(&b, "<p>Retry %d scheduled for %s.</p>", e.Metadata.RetryCount()+1, next.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	return subject, b.String()
}
