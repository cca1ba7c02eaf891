package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Handle identifies the conversation and records whether the backend agreed
// to persist it. Persistent never changes after Bootstrap.
type Handle struct {
	ID         string
	Persistent bool
	StartedAt  time.Time
}

// Creator is the slice of the backend client that Bootstrap needs.
type Creator interface {
	CreateSession(ctx context.Context, projectID int64) (string, error)
}

// Bootstrap asks the backend for a durable session. When the backend cannot
// provide one, the handle degrades to a locally derived id and persistence
// stays off; callers must not re-probe later.
func Bootstrap(ctx context.Context, c Creator, projectID int64, logger *slog.Logger) Handle {
	now := time.Now()
	id, err := c.CreateSession(ctx, projectID)
	if err == nil {
		logger.Info("session negotiated", "session_id", id)
		return Handle{ID: id, Persistent: true, StartedAt: now}
	}
	logger.Warn("session negotiation failed, continuing without persistence", "error", err)
	return Handle{ID: FallbackID(projectID, now), StartedAt: now}
}

// FallbackID derives a local session id: keyed to the project when one is
// known, to the bootstrap time otherwise.
func FallbackID(projectID int64, now time.Time) string {
	if projectID > 0 {
		return fmt.Sprintf("project_%d", projectID)
	}
	return fmt.Sprintf("session_%d", now.Unix())
}
