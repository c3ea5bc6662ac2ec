package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// scriptTimeout bounds how long a notification hook may run.
const scriptTimeout = 30 * time.Second

// Notifier is invoked when the sync needs human attention, typically an
// expired trust token. Implementations must be safe to call repeatedly.
type Notifier interface {
	Notify(ctx context.Context, event string) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string) error { return nil }

// ScriptNotifier runs a user-supplied executable with the event name as its
// single argument. Exit status is logged but never fails the sync.
type ScriptNotifier struct {
	path   string
	logger *slog.Logger
}

// NewScriptNotifier builds a notifier around the given executable path.
func NewScriptNotifier(path string, logger *slog.Logger) *ScriptNotifier {
	if logger == nil {
		logger = slog.Default()
	}

	return &ScriptNotifier{path: path, logger: logger}
}

// Notify runs the script with a bounded timeout.
func (n *ScriptNotifier) Notify(ctx context.Context, event string) error {
	runCtx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, n.path, event)

	output, err := cmd.CombinedOutput()
	if err != nil {
		n.logger.Warn("notification script failed",
			slog.String("script", n.path),
			slog.String("event", event),
			slog.String("output", string(output)),
			slog.String("error", err.Error()),
		)

		return fmt.Errorf("syncer: notification script: %w", err)
	}

	n.logger.Debug("notification sent",
		slog.String("script", n.path),
		slog.String("event", event),
	)

	return nil
}

// ExifWriter sets capture timestamps on downloaded images. The core only
// calls it for JPEG-like files that lack a datetime already; the default
// build wires no implementation.
type ExifWriter interface {
	HasDatetime(path string) bool
	WriteDatetime(path string, t time.Time) error
}
