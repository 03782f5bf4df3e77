package service

import (
	"context"
	"log/slog"

	"github.com/outerlook/vibe-kanban-sub002/internal/port/notifier"
)

// NotificationService dispatches notifications to all registered notifiers.
type NotificationService struct {
	notifiers []notifier.Notifier
}

// NewNotificationService creates a NotificationService over the given
// providers.
func NewNotificationService(notifiers []notifier.Notifier) *NotificationService {
	return &NotificationService{notifiers: notifiers}
}

// BuildNotifiers instantiates every configured provider through the
// registry. Unknown or misconfigured providers are skipped with a
// warning so one bad entry never takes the rest down.
func BuildNotifiers(providers []string, settings map[string]map[string]string) []notifier.Notifier {
	out := make([]notifier.Notifier, 0, len(providers))
	for _, name := range providers {
		n, err := notifier.New(name, settings[name])
		if err != nil {
			slog.Warn("notifier unavailable", "provider", name, "error", err)
			continue
		}
		out = append(out, n)
	}
	return out
}

// Notify sends a notification to all registered notifiers.
// Errors are logged but do not interrupt delivery to other notifiers.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) {
	for _, provider := range s.notifiers {
		if err := provider.Send(ctx, n); err != nil {
			slog.Warn("notification send failed",
				"provider", provider.Name(),
				"title", n.Title,
				"error", err,
			)
			continue
		}
		slog.Debug("notification sent", "provider", provider.Name(), "title", n.Title)
	}
}

// NotifierCount returns the number of registered notifiers.
func (s *NotificationService) NotifierCount() int {
	return len(s.notifiers)
}
