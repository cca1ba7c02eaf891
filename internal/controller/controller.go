package controller

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Suryansh1987/buildora-fr/internal/backend"
	"github.com/Suryansh1987/buildora-fr/internal/cache"
	"github.com/Suryansh1987/buildora-fr/internal/chat"
	"github.com/Suryansh1987/buildora-fr/internal/config"
	"github.com/Suryansh1987/buildora-fr/internal/project"
	"github.com/Suryansh1987/buildora-fr/internal/session"
)

// Controller owns the page state. Every input handler consults the lifecycle
// machine before touching it.
type Controller struct {
	cfg    config.Config
	client *backend.Client
	db     *sql.DB
	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter

	machine   *Machine
	messages  *chat.Log
	snapshots *cache.Store

	mu        sync.Mutex
	sess      session.Handle
	record    project.Record
	structure json.RawMessage
	streamOK  bool
	lastErr   error
}

// New wires a controller from configuration and already-initialized
// observability handles. The db may be nil; the transcript mirror is then
// skipped entirely.
func New(cfg config.Config, db *sql.DB, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Controller {
	return &Controller{
		cfg:       cfg,
		client:    backend.NewClient(cfg.BackendURL, cfg.HTTPTimeout, logger, tracer, meter),
		db:        db,
		logger:    logger,
		tracer:    tracer,
		meter:     meter,
		machine:   NewMachine(),
		messages:  chat.NewLog(),
		snapshots: cache.New(cfg.SnapshotTTL),
	}
}

// Bootstrap brings the page from idle to ready: probe the backend, negotiate
// the session once, and load whatever state the backend already holds. The
// session handle fixed here lasts until the next Bootstrap, which only Retry
// may trigger.
func (c *Controller) Bootstrap(ctx context.Context) error {
	if err := c.machine.To(StateInitializing); err != nil {
		return err
	}
	ctx, span := c.tracer.Start(ctx, "bootstrap")
	defer span.End()

	healthCtx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	err := c.client.Health(healthCtx)
	cancel()
	if err != nil {
		return c.fail(fmt.Errorf("backend health check failed: %w", err))
	}

	var sess session.Handle
	if c.cfg.SessionID != "" {
		sess = session.Handle{ID: c.cfg.SessionID, Persistent: true, StartedAt: time.Now()}
		c.logger.Info("reusing configured session", "session_id", sess.ID)
	} else {
		sess = session.Bootstrap(ctx, c.client, c.cfg.ProjectID, c.logger)
	}

	var rec project.Record
	if c.cfg.ProjectID != 0 {
		rec, err = c.client.GetProject(ctx, c.cfg.ProjectID)
		if err != nil {
			if !errors.Is(err, backend.ErrNotFound) {
				return c.fail(fmt.Errorf("failed to load project %d: %w", c.cfg.ProjectID, err))
			}
			c.logger.Warn("configured project does not exist yet", "project_id", c.cfg.ProjectID)
			rec = project.Record{}
		}
	}

	c.mu.Lock()
	c.sess = sess
	c.record = rec
	c.streamOK = true
	c.lastErr = nil
	c.mu.Unlock()

	if sess.Persistent {
		history, summary, err := c.client.GetConversation(ctx, sess.ID)
		switch {
		case errors.Is(err, backend.ErrNotFound):
			// fresh session, nothing stored yet
		case err != nil:
			c.logger.Warn("failed to load conversation history", "error", err)
		default:
			c.messages.ReplaceAll(history)
			if summary != nil {
				c.snapshots.Put(cache.Key("summary", sess.ID), summary)
			}
			c.mirrorHistory(ctx, history)
		}
	}
	c.mirrorConversation(ctx)

	c.logger.Info("page ready",
		"session_id", sess.ID,
		"persistent", sess.Persistent,
		"project_id", rec.ID,
		"messages", c.messages.Len(),
	)
	return c.machine.To(StateReady)
}

// Retry re-runs the bootstrap after a failure. It is the only way out of the
// error state; calling it anywhere else is rejected.
func (c *Controller) Retry(ctx context.Context) error {
	if c.machine.Current() != StateError {
		return fmt.Errorf("nothing to retry: page is %s", c.machine.Current())
	}
	return c.Bootstrap(ctx)
}

// Submit routes one user prompt: the first prompt generates the app, later
// ones modify it. The prompt is rejected unless the page is ready.
func (c *Controller) Submit(ctx context.Context, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil
	}

	c.mu.Lock()
	rec := c.record
	c.mu.Unlock()

	// a project record without a deployment URL has never been built; the
	// prompt that builds it goes through generate, everything after modifies
	deployed := rec.DeploymentURL != ""

	next := StateGenerating
	if deployed {
		next = StateStreaming
	}
	if err := c.machine.To(next); err != nil {
		return fmt.Errorf("cannot accept input: %w", err)
	}

	prompts, _ := c.meter.Int64Counter("chat.prompts")
	prompts.Add(ctx, 1)

	userMsg := c.messages.Append(chat.RoleUser, prompt)
	c.mirror(ctx, userMsg)
	c.saveRemote(ctx, userMsg)

	if deployed {
		return c.modify(ctx, prompt, rec)
	}
	return c.generate(ctx, prompt)
}

// generate runs the first-build flow: kick the build off, then either take
// the preview URL straight from the response or watch the project record
// until one appears. The structure riding with the response is kept for
// later modification calls.
func (c *Controller) generate(ctx context.Context, prompt string) error {
	ctx, span := c.tracer.Start(ctx, "generate_flow")
	defer span.End()

	resp, err := c.client.Generate(ctx, prompt, c.cfg.ProjectID)
	if err != nil {
		c.messages.Append(chat.RoleSystem, "The build could not be started: "+userFacing(err))
		return c.fail(fmt.Errorf("generate failed: %w", err))
	}

	if len(resp.ProjectStructure) > 0 {
		c.mu.Lock()
		c.structure = resp.ProjectStructure
		c.mu.Unlock()
	}

	if resp.PreviewURL != "" {
		rec := project.Record{ID: c.cfg.ProjectID, Status: project.StatusReady, DeploymentURL: resp.PreviewURL}
		// the backend's generate path does not write the projects table, so
		// mirror the deployment onto the record for later reloads
		if rec.ID != 0 {
			if err := c.client.UpdateProject(ctx, rec.ID, rec.DeploymentURL, project.StatusReady); err != nil {
				c.logger.Warn("failed to mirror deployment onto project record", "error", err)
			}
		}
		return c.finishBuild(ctx, rec)
	}

	if c.cfg.ProjectID == 0 {
		c.messages.Append(chat.RoleSystem, "The build started but the backend returned nothing to watch.")
		return c.fail(fmt.Errorf("generate returned no preview URL and no project is configured"))
	}

	poller := &project.Poller{
		Fetcher:         c.client,
		Attempts:        c.cfg.PollAttempts,
		Interval:        c.cfg.PollInterval,
		FailureInterval: c.cfg.PollFailureInterval,
		Logger:          c.logger,
	}
	rec, err := poller.Wait(ctx, c.cfg.ProjectID)
	if err != nil {
		c.messages.Append(chat.RoleSystem, "The build did not finish: "+userFacing(err))
		return c.fail(fmt.Errorf("build watch failed: %w", err))
	}
	return c.finishBuild(ctx, rec)
}

func (c *Controller) finishBuild(ctx context.Context, rec project.Record) error {
	c.mu.Lock()
	c.record = rec
	c.mu.Unlock()

	msg := c.messages.Append(chat.RoleAssistant, "Your app is deployed: "+rec.DeploymentURL)
	c.mirror(ctx, msg)
	c.saveRemote(ctx, msg)
	return c.machine.To(StateReady)
}

// modify runs the modification flow. The placeholder id is captured at
// creation and every later mutation, the finalize, and the error-path removal
// key on that same id. A 501 from the stream endpoint turns streaming off for
// the rest of the session; later prompts go straight to the plain endpoint.
func (c *Controller) modify(ctx context.Context, prompt string, rec project.Record) error {
	ctx, span := c.tracer.Start(ctx, "modify_flow")
	defer span.End()

	c.mu.Lock()
	sess := c.sess
	streaming := c.streamOK
	structure := c.structure
	c.mu.Unlock()

	placeholder, err := c.messages.BeginStreaming()
	if err != nil {
		if terr := c.machine.To(StateReady); terr != nil {
			return terr
		}
		return err
	}
	placeholderID := placeholder.ID

	req := backend.ModifyRequest{Prompt: prompt, SessionID: sess.ID, ProjectID: rec.ID, ProjectStructure: structure}

	var accumulated strings.Builder
	var streamErr error
	if streaming {
		streamErr = c.client.ModifyStream(ctx, req, func(fragment string) error {
			accumulated.WriteString(fragment)
			return c.messages.SetStreamingContent(placeholderID, accumulated.String())
		})
		if errors.Is(streamErr, backend.ErrUnavailable) {
			c.mu.Lock()
			c.streamOK = false
			c.mu.Unlock()
			c.logger.Info("streaming not supported by backend, downgrading to plain modify")
			c.messages.Append(chat.RoleSystem, "Streaming is unavailable on this backend; replies will arrive in one piece.")
			streaming = false
			streamErr = nil
			accumulated.Reset()
		}
	}

	if !streaming && streamErr == nil {
		reply, plainErr := c.client.Modify(ctx, req)
		if plainErr != nil {
			streamErr = plainErr
		} else {
			accumulated.WriteString(reply)
			streamErr = c.messages.SetStreamingContent(placeholderID, reply)
		}
	}

	if streamErr == nil && strings.TrimSpace(accumulated.String()) == "" {
		streamErr = fmt.Errorf("backend returned an empty reply")
	}

	if streamErr != nil {
		c.messages.Discard(placeholderID)
		c.messages.Append(chat.RoleAssistant, "The modification failed: "+userFacing(streamErr))
		c.logger.Error("modification failed", "error", streamErr)
		return c.machine.To(StateReady)
	}

	if err := c.messages.Finalize(placeholderID); err != nil {
		c.logger.Warn("failed to finalize reply", "error", err)
	}

	final := chat.Message{
		ID:        placeholderID,
		Role:      chat.RoleAssistant,
		Content:   accumulated.String(),
		CreatedAt: placeholder.CreatedAt,
	}
	c.mirror(ctx, final)
	c.saveRemote(ctx, final)

	c.snapshots.Invalidate(cache.Key("summary", sess.ID))
	c.snapshots.Invalidate(cache.Key("stats", sess.ID))

	// a modification can redeploy; pick up the fresh record opportunistically
	if rec.ID != 0 {
		if refreshed, err := c.client.GetProject(ctx, rec.ID); err == nil {
			c.mu.Lock()
			c.record = refreshed
			c.mu.Unlock()
		}
	}

	return c.machine.To(StateReady)
}

// Summary returns the conversation summary, served from the snapshot cache
// inside its TTL. Without a negotiated session the feature is unavailable.
func (c *Controller) Summary(ctx context.Context) (*backend.ConversationSummary, error) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if !sess.Persistent {
		return nil, backend.ErrUnavailable
	}

	key := cache.Key("summary", sess.ID)
	if v, ok := c.snapshots.Get(key); ok {
		return v.(*backend.ConversationSummary), nil
	}

	summary, err := c.client.GetSummary(ctx, sess.ID)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if summary != nil {
		c.snapshots.Put(key, summary)
	}
	return summary, nil
}

// Stats returns conversation counters, cached like Summary.
func (c *Controller) Stats(ctx context.Context) (*backend.ConversationStats, error) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if !sess.Persistent {
		return nil, backend.ErrUnavailable
	}

	key := cache.Key("stats", sess.ID)
	if v, ok := c.snapshots.Get(key); ok {
		return v.(*backend.ConversationStats), nil
	}

	stats, err := c.client.GetStats(ctx, sess.ID)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if stats != nil {
		c.snapshots.Put(key, stats)
	}
	return stats, nil
}

// Summarize asks the backend to fold the conversation into a summary and
// drops the cached snapshots it invalidates.
func (c *Controller) Summarize(ctx context.Context) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if !sess.Persistent {
		return backend.ErrUnavailable
	}

	if err := c.client.SendAction(ctx, sess.ID, "summarize"); err != nil {
		return err
	}
	c.snapshots.Invalidate(cache.Key("summary", sess.ID))
	c.snapshots.Invalidate(cache.Key("stats", sess.ID))
	return nil
}

// Clear wipes the conversation locally and, when persistence is on,
// remotely. A history the backend has already lost clears silently.
func (c *Controller) Clear(ctx context.Context) error {
	if s := c.machine.Current(); s != StateReady {
		return fmt.Errorf("cannot clear while %s", s)
	}

	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	c.messages.Clear()
	c.snapshots.Clear()

	if c.db != nil {
		if _, err := c.db.ExecContext(ctx, "DELETE FROM transcript WHERE session_id = ?", sess.ID); err != nil {
			c.logger.Warn("failed to clear transcript mirror", "error", err)
		}
	}

	if sess.Persistent {
		if err := c.client.ClearConversation(ctx, sess.ID); err != nil && !errors.Is(err, backend.ErrNotFound) {
			return err
		}
	}
	c.logger.Info("conversation cleared", "session_id", sess.ID)
	return nil
}

// Preview refreshes the project record and returns it. A missing project
// surfaces as an error here because the user asked for it by name.
func (c *Controller) Preview(ctx context.Context) (project.Record, error) {
	c.mu.Lock()
	rec := c.record
	c.mu.Unlock()

	projectID := rec.ID
	if projectID == 0 {
		projectID = c.cfg.ProjectID
	}
	if projectID == 0 {
		return rec, nil
	}

	refreshed, err := c.client.GetProject(ctx, projectID)
	if err != nil {
		return rec, err
	}
	c.mu.Lock()
	c.record = refreshed
	c.mu.Unlock()
	return refreshed, nil
}

// Health probes the backend within the configured bound.
func (c *Controller) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()
	return c.client.Health(ctx)
}

// Status is a point-in-time view of the page for display.
type Status struct {
	State      State
	SessionID  string
	Persistent bool
	Project    project.Record
	Messages   int
	LastError  error
}

// Status reports the current page state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:      c.machine.Current(),
		SessionID:  c.sess.ID,
		Persistent: c.sess.Persistent,
		Project:    c.record,
		Messages:   c.messages.Len(),
		LastError:  c.lastErr,
	}
}

// Messages returns a snapshot of the conversation.
func (c *Controller) Messages() []chat.Message {
	return c.messages.Messages()
}

// Close releases the transcript database.
func (c *Controller) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *Controller) fail(err error) error {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.logger.Error("entering error state", "error", err)
	if terr := c.machine.To(StateError); terr != nil {
		c.logger.Error("failed to enter error state", "error", terr)
	}
	return err
}

// saveRemote persists one message into the backend history when the session
// negotiated persistence. Failures are logged, never surfaced.
func (c *Controller) saveRemote(ctx context.Context, msg chat.Message) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if !sess.Persistent {
		return
	}
	if err := c.client.SaveMessage(ctx, sess.ID, msg); err != nil {
		c.logger.Warn("failed to save message remotely", "error", err)
	}
}

// mirror writes one message into the local transcript. Best effort.
func (c *Controller) mirror(ctx context.Context, msg chat.Message) {
	if c.db == nil {
		return
	}
	c.mu.Lock()
	sessID := c.sess.ID
	c.mu.Unlock()

	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO transcript (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)",
		msg.ID, sessID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		c.logger.Warn("failed to mirror message", "error", err)
	}
}

// mirrorHistory writes a loaded history into the local transcript in one
// transaction, skipping rows that fail instead of aborting the batch.
func (c *Controller) mirrorHistory(ctx context.Context, history []chat.Message) {
	if c.db == nil || len(history) == 0 {
		return
	}
	c.mu.Lock()
	sessID := c.sess.ID
	c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		c.logger.Warn("failed to begin transcript transaction", "error", err)
		return
	}
	defer tx.Rollback()

	for _, msg := range history {
		_, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO transcript (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)",
			msg.ID, sessID, msg.Role, msg.Content, msg.CreatedAt,
		)
		if err != nil {
			c.logger.Warn("failed to mirror history message", "id", msg.ID, "error", err)
		}
	}

	if err := tx.Commit(); err != nil {
		c.logger.Warn("failed to commit transcript mirror", "error", err)
		return
	}
	c.logger.Info("history mirrored", "session_id", sessID, "message_count", len(history))
}

func (c *Controller) mirrorConversation(ctx context.Context) {
	if c.db == nil {
		return
	}
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO conversations (id, project_id, started_at) VALUES (?, ?, ?)",
		sess.ID, c.cfg.ProjectID, sess.StartedAt,
	)
	if err != nil {
		c.logger.Warn("failed to mirror conversation row", "error", err)
	}
}

// userFacing turns a failure into the sentence shown in the chat.
func userFacing(err error) string {
	switch {
	case errors.Is(err, backend.ErrUnreachable):
		return "the backend is unreachable. Check that the server is running."
	case errors.Is(err, backend.ErrUnavailable):
		return "the backend does not support this feature."
	case errors.Is(err, backend.ErrNotFound):
		return "nothing was found for this request."
	case errors.Is(err, project.ErrPollTimeout):
		return "the build is taking too long. Check the project status again later."
	case errors.Is(err, project.ErrBuildFailed):
		return "the build failed on the backend."
	}
	return err.Error()
}
