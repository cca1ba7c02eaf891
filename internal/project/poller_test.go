package project

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type step struct {
	rec Record
	err error
}

type scriptedFetcher struct {
	steps []step
	calls int
}

func (f *scriptedFetcher) GetProject(ctx context.Context, id int64) (Record, error) {
	if f.calls >= len(f.steps) {
		return Record{}, errors.New("script exhausted")
	}
	s := f.steps[f.calls]
	f.calls++
	return s.rec, s.err
}

func newTestPoller(f Fetcher, attempts int) *Poller {
	return &Poller{
		Fetcher:         f,
		Attempts:        attempts,
		Interval:        time.Millisecond,
		FailureInterval: 2 * time.Millisecond,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestWaitDeployed(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{
		{rec: Record{ID: 42, Status: StatusBuilding}},
		{rec: Record{ID: 42, Status: StatusReady}},
		{rec: Record{ID: 42, Status: StatusReady, DeploymentURL: "https://demo.test"}},
	}}
	rec, err := newTestPoller(fetcher, 30).Wait(context.Background(), 42)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if rec.DeploymentURL != "https://demo.test" {
		t.Errorf("deployment url = %q", rec.DeploymentURL)
	}
	if fetcher.calls != 3 {
		t.Errorf("fetch count = %d, want 3; ready without a url must not be terminal and deployed must stop the watch", fetcher.calls)
	}
}

func TestWaitBuildFailed(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{
		{rec: Record{ID: 42, Status: StatusPending}},
		{rec: Record{ID: 42, Status: StatusError}},
	}}
	rec, err := newTestPoller(fetcher, 30).Wait(context.Background(), 42)
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("err = %v, want ErrBuildFailed", err)
	}
	if rec.Status != StatusError {
		t.Errorf("record status = %q, want error", rec.Status)
	}
	if fetcher.calls != 2 {
		t.Errorf("fetch count = %d, want 2", fetcher.calls)
	}
}

func TestWaitBudgetExhausted(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{
		{rec: Record{ID: 42, Status: StatusBuilding}},
		{rec: Record{ID: 42, Status: StatusBuilding}},
		{rec: Record{ID: 42, Status: StatusBuilding}},
	}}
	rec, err := newTestPoller(fetcher, 3).Wait(context.Background(), 42)
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("err = %v, want ErrPollTimeout", err)
	}
	if rec.Status != StatusBuilding {
		t.Errorf("last record status = %q, want building", rec.Status)
	}
	if fetcher.calls != 3 {
		t.Errorf("fetch count = %d, want exactly the budget", fetcher.calls)
	}
}

func TestWaitFetchErrorsAreTransient(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
		{rec: Record{ID: 42, Status: StatusReady, DeploymentURL: "https://demo.test"}},
	}}
	rec, err := newTestPoller(fetcher, 30).Wait(context.Background(), 42)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !rec.Deployed() {
		t.Errorf("record = %+v, want deployed", rec)
	}
	if fetcher.calls != 3 {
		t.Errorf("fetch count = %d, want 3", fetcher.calls)
	}
}

func TestWaitContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := fetcherFunc(func(context.Context, int64) (Record, error) {
		cancel()
		return Record{Status: StatusBuilding}, nil
	})
	_, err := newTestPoller(fetcher, 30).Wait(ctx, 42)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

type fetcherFunc func(ctx context.Context, id int64) (Record, error)

func (f fetcherFunc) GetProject(ctx context.Context, id int64) (Record, error) {
	return f(ctx, id)
}
