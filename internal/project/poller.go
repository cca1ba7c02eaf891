package project

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var (
	// ErrPollTimeout indicates the attempt budget ran out before the build
	// reached a terminal state.
	ErrPollTimeout = errors.New("project polling timed out")

	// ErrBuildFailed indicates the backend reported the build as failed.
	ErrBuildFailed = errors.New("project build failed")
)

// Fetcher fetches the current state of a project record.
type Fetcher interface {
	GetProject(ctx context.Context, id int64) (Record, error)
}

// Poller watches a project build until it deploys, fails, or the attempt
// budget runs out. Fetch errors are transient: they slow the cadence down to
// FailureInterval but never abort the watch.
type Poller struct {
	Fetcher         Fetcher
	Attempts        int
	Interval        time.Duration
	FailureInterval time.Duration
	Logger          *slog.Logger
}

// Wait polls the record until it is deployed. It returns the last fetched
// record along with ErrBuildFailed, ErrPollTimeout, or the context error.
// No further fetch happens once a terminal state is seen.
func (p *Poller) Wait(ctx context.Context, id int64) (Record, error) {
	var last Record
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		rec, err := p.Fetcher.GetProject(ctx, id)
		delay := p.Interval
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			p.Logger.Warn("project poll failed", "attempt", attempt, "error", err)
			delay = p.FailureInterval
		} else {
			last = rec
			if rec.Deployed() {
				p.Logger.Info("project deployed", "project_id", id, "url", rec.DeploymentURL, "attempts", attempt)
				return rec, nil
			}
			if rec.Failed() {
				return rec, ErrBuildFailed
			}
			p.Logger.Debug("project still building", "project_id", id, "status", rec.Status, "attempt", attempt)
		}

		if attempt == p.Attempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		case <-timer.C:
		}
	}
	return last, ErrPollTimeout
}
