// Package lognotify implements a notifier.Notifier that writes to the
// structured log. Useful as a default sink and in development.
package lognotify

import (
	"context"
	"log/slog"

	"github.com/outerlook/vibe-kanban-sub002/internal/port/notifier"
)

const providerName = "log"

func init() {
	notifier.Register(providerName, func(_ map[string]string) (notifier.Notifier, error) {
		return New(), nil
	})
}

// Notifier logs notifications via slog.
type Notifier struct{}

// New creates a log notifier.
func New() *Notifier {
	return &Notifier{}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{}
}

func (n *Notifier) Send(_ context.Context, notification notifier.Notification) error {
	level := slog.LevelInfo
	switch notification.Level {
	case "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.Log(context.Background(), level, notification.Title,
		"message", notification.Message,
		"source", notification.Source,
	)
	return nil
}
