// Package backend is the HTTP client for the app builder API: session
// negotiation, conversation persistence, project records, and the generation
// and modification calls.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Suryansh1987/buildora-fr/internal/chat"
	"github.com/Suryansh1987/buildora-fr/internal/project"
)

// Client talks to the builder backend. All methods honor ctx cancellation
// and classify failures with the package sentinels.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *slog.Logger
	tracer       trace.Tracer
	meter        metric.Meter
}

// NewClient creates a backend client rooted at baseURL. Ordinary calls are
// bounded by timeout; streaming responses get a client without one.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
		logger:       logger,
		tracer:       tracer,
		meter:        meter,
	}
}

// CreateSession asks the backend for a durable conversation session scoped to
// the project.
func (c *Client) CreateSession(ctx context.Context, projectID int64) (string, error) {
	ctx, span := c.tracer.Start(ctx, "session_create_call")
	defer span.End()

	var resp SessionCreateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/session/create", nil, SessionCreateRequest{ProjectID: projectID}, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("session create returned no id")
	}
	return resp.SessionID, nil
}

// GetConversation fetches the stored message history and, when the backend
// has one, the current summary.
func (c *Client) GetConversation(ctx context.Context, sessionID string) ([]chat.Message, *ConversationSummary, error) {
	ctx, span := c.tracer.Start(ctx, "conversation_call")
	defer span.End()

	var resp struct {
		Messages []chat.Message       `json:"messages"`
		Summary  *ConversationSummary `json:"summary"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/conversation", url.Values{"sessionId": {sessionID}}, nil, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Messages, resp.Summary, nil
}

// GetSummary fetches the current conversation summary, nil when the backend
// has not produced one yet.
func (c *Client) GetSummary(ctx context.Context, sessionID string) (*ConversationSummary, error) {
	ctx, span := c.tracer.Start(ctx, "summary_call")
	defer span.End()

	var resp struct {
		Summary *ConversationSummary `json:"summary"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/conversation/summary", url.Values{"sessionId": {sessionID}}, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Summary, nil
}

// GetStats fetches conversation counters for the session.
func (c *Client) GetStats(ctx context.Context, sessionID string) (*ConversationStats, error) {
	ctx, span := c.tracer.Start(ctx, "stats_call")
	defer span.End()

	var stats ConversationStats
	if err := c.doJSON(ctx, http.MethodGet, "/conversation/stats", url.Values{"sessionId": {sessionID}}, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// SaveMessage appends one message to the server-side conversation history.
func (c *Client) SaveMessage(ctx context.Context, sessionID string, msg chat.Message) error {
	ctx, span := c.tracer.Start(ctx, "message_save_call")
	defer span.End()

	payload := struct {
		SessionID string       `json:"sessionId"`
		Message   chat.Message `json:"message"`
	}{SessionID: sessionID, Message: msg}
	return c.doJSON(ctx, http.MethodPost, "/conversation/messages", nil, payload, nil)
}

// SendAction posts a control action, such as "summarize", for the session.
func (c *Client) SendAction(ctx context.Context, sessionID, action string) error {
	ctx, span := c.tracer.Start(ctx, "action_call")
	defer span.End()

	payload := struct {
		SessionID string `json:"sessionId"`
		Action    string `json:"action"`
	}{SessionID: sessionID, Action: action}
	return c.doJSON(ctx, http.MethodPost, "/conversation/messages", nil, payload, nil)
}

// ClearConversation deletes the server-side history for the session.
func (c *Client) ClearConversation(ctx context.Context, sessionID string) error {
	ctx, span := c.tracer.Start(ctx, "conversation_clear_call")
	defer span.End()

	return c.doJSON(ctx, http.MethodDelete, "/conversation", url.Values{"sessionId": {sessionID}}, nil, nil)
}

// GetProject fetches the project record by id.
func (c *Client) GetProject(ctx context.Context, id int64) (project.Record, error) {
	ctx, span := c.tracer.Start(ctx, "project_call")
	defer span.End()

	var rec project.Record
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/projects/%d", id), nil, nil, &rec); err != nil {
		return project.Record{}, err
	}
	return rec, nil
}

// UpdateProject mirrors a finished deployment back onto the project record.
func (c *Client) UpdateProject(ctx context.Context, id int64, deploymentURL string, status project.Status) error {
	ctx, span := c.tracer.Start(ctx, "project_update_call")
	defer span.End()

	payload := ProjectUpdateRequest{DeploymentURL: deploymentURL, Status: string(status)}
	return c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/projects/%d", id), nil, payload, nil)
}

// Generate kicks off the initial application build. The response carries the
// preview URL when the backend reports one immediately, and may carry the
// project structure that later modification calls echo back.
func (c *Client) Generate(ctx context.Context, prompt string, projectID int64) (GenerateResponse, error) {
	ctx, span := c.tracer.Start(ctx, "generate_call")
	defer span.End()

	var resp GenerateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/generate", nil, GenerateRequest{Prompt: prompt, ProjectID: projectID}, &resp); err != nil {
		return GenerateResponse{}, err
	}
	return resp, nil
}

// Modify requests a modification without streaming and returns the backend's
// reply text.
func (c *Client) Modify(ctx context.Context, req ModifyRequest) (string, error) {
	ctx, span := c.tracer.Start(ctx, "modify_call")
	defer span.End()

	var resp ModifyResponse
	if err := c.doJSON(ctx, http.MethodPost, "/modify", nil, req, &resp); err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// Health probes backend liveness. Callers bound the wait through ctx; an
// exceeded deadline comes back as ErrUnreachable like any transport failure.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "health_call")
	defer span.End()

	return c.doJSON(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, payload, result any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("calling backend", "method", method, "path", path)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	histogram, _ := c.meter.Float64Histogram("http.client.request.duration")
	histogram.Record(ctx, time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}
