package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/Suryansh1987/buildora-fr/internal/backend"
	"github.com/Suryansh1987/buildora-fr/internal/chat"
	"github.com/Suryansh1987/buildora-fr/internal/config"
)

func newTestController(t *testing.T, baseURL string, projectID int64) *Controller {
	t.Helper()
	cfg := config.Default()
	cfg.BackendURL = baseURL
	cfg.ProjectID = projectID
	cfg.PollAttempts = 5
	cfg.PollInterval = time.Millisecond
	cfg.PollFailureInterval = time.Millisecond
	cfg.HealthTimeout = time.Second

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracer := tracenoop.NewTracerProvider().Tracer("test")
	meter := noop.NewMeterProvider().Meter("test")
	return New(cfg, nil, logger, tracer, meter)
}

// baseMux covers the endpoints every bootstrap touches. history is the
// /conversation response body; empty means the backend has nothing stored.
func baseMux(t *testing.T, history string) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/session/create", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"sessionId": "s1"})
	})
	mux.HandleFunc("/conversation", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && history != "" {
			w.Write([]byte(history))
			return
		}
		http.Error(w, "no conversation", http.StatusNotFound)
	})
	mux.HandleFunc("/conversation/messages", func(w http.ResponseWriter, r *http.Request) {})
	return mux
}

func TestBootstrapReady(t *testing.T) {
	history := `{
		"messages": [{"id":"m1","content":"make an app","role":"user","timestamp":"2026-08-20T10:00:00Z"}],
		"summary": {"id":"sum1","text":"building an app","messageCount":1}
	}`
	mux := baseMux(t, history)
	var summaryCalls int
	mux.HandleFunc("/conversation/summary", func(w http.ResponseWriter, r *http.Request) {
		summaryCalls++
		w.Write([]byte(`{"summary":{"id":"sum2","text":"fresh","messageCount":2}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctrl := newTestController(t, server.URL, 0)
	if err := ctrl.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	s := ctrl.Status()
	if s.State != StateReady {
		t.Errorf("state = %s, want ready", s.State)
	}
	if s.SessionID != "s1" || !s.Persistent {
		t.Errorf("session = %q persistent=%t, want s1 persistent", s.SessionID, s.Persistent)
	}
	if s.Messages != 1 {
		t.Errorf("messages = %d, want 1", s.Messages)
	}

	// the summary that arrived with the history seeds the snapshot cache
	summary, err := ctrl.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary == nil || summary.Text != "building an app" {
		t.Errorf("summary = %+v, want the bootstrap snapshot", summary)
	}
	if summaryCalls != 0 {
		t.Errorf("summary endpoint hit %d times, want 0 while the snapshot is fresh", summaryCalls)
	}
}

func TestBootstrapUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NewServeMux())
	server.Close()

	ctrl := newTestController(t, server.URL, 0)
	err := ctrl.Bootstrap(context.Background())
	if !errors.Is(err, backend.ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}

	s := ctrl.Status()
	if s.State != StateError {
		t.Errorf("state = %s, want error", s.State)
	}
	if s.LastError == nil {
		t.Error("last error not recorded")
	}

	// retry is allowed from error and fails again against the dead server
	if err := ctrl.Retry(context.Background()); err == nil {
		t.Fatal("Retry against a dead backend should fail")
	}
	if ctrl.Status().State != StateError {
		t.Errorf("state after failed retry = %s, want error", ctrl.Status().State)
	}
}

func TestRetryRejectedWhenReady(t *testing.T) {
	server := httptest.NewServer(baseMux(t, ""))
	defer server.Close()

	ctrl := newTestController(t, server.URL, 0)
	if err := ctrl.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := ctrl.Retry(context.Background()); err == nil {
		t.Fatal("Retry from ready should be rejected")
	}
	if ctrl.Status().State != StateReady {
		t.Errorf("state = %s, want ready", ctrl.Status().State)
	}
}

func TestSubmitGeneratesImmediatePreview(t *testing.T) {
	mux := baseMux(t, "")
	var generateCalls int
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		generateCalls++
		var req backend.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode generate request: %v", err)
		}
		if req.Prompt != "make me a landing page" {
			t.Errorf("prompt = %q", req.Prompt)
		}
		json.NewEncoder(w).Encode(map[string]string{"previewUrl": "https://p.test"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctrl := newTestController(t, server.URL, 0)
	if err := ctrl.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := ctrl.Submit(context.Background(), "make me a landing page"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if generateCalls != 1 {
		t.Errorf("generate called %d times, want 1", generateCalls)
	}
	s := ctrl.Status()
	if s.State != StateReady {
		t.Errorf("state = %s, want ready", s.State)
	}
	if s.Project.DeploymentURL != "https://p.test" {
		t.Errorf("deployment url = %q", s.Project.DeploymentURL)
	}

	msgs := ctrl.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want user + assistant", len(msgs))
	}
	if msgs[0].Role != chat.RoleUser {
		t.Errorf("first message role = %s", msgs[0].Role)
	}
	if msgs[1].Role != chat.RoleAssistant || !strings.Contains(msgs[1].Content, "https://p.test") {
		t.Errorf("reply = %+v", msgs[1])
	}
}

func TestSubmitGenerateWatchesBuild(t *testing.T) {
	mux := baseMux(t, "")
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	var mu sync.Mutex
	responses := []string{
		`{"id":42,"status":"pending"}`,
		`{"id":42,"status":"building"}`,
		`{"id":42,"status":"ready","deploymentUrl":"https://demo.test"}`,
	}
	var projectCalls int
	mux.HandleFunc("/projects/42", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			t.Error("poll path must not write the project record back")
			return
		}
		mu.Lock()
		i := projectCalls
		if i >= len(responses) {
			i = len(responses) - 1
		}
		projectCalls++
		mu.Unlock()
		w.Write([]byte(responses[i]))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctrl := newTestController(t, server.URL, 42)
	if err := ctrl.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := ctrl.Submit(context.Background(), "make me a shop"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	s := ctrl.Status()
	if s.State != StateReady {
		t.Errorf("state = %s, want ready", s.State)
	}
	if !s.Project.Deployed() {
		t.Errorf("project = %+v, want deployed", s.Project)
	}
	msgs := ctrl.Messages()
	last := msgs[len(msgs)-1]
	if !strings.Contains(last.Content, "https://demo.test") {
		t.Errorf("reply = %q, want the deployment url", last.Content)
	}
	mu.Lock()
	defer mu.Unlock()
	if projectCalls != 3 {
		t.Errorf("project fetched %d times, want bootstrap + 2 polls", projectCalls)
	}
}

func TestSubmitGenerateDirectPreviewMirrorsRecord(t *testing.T) {
	mux := baseMux(t, "")
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"previewUrl": "https://p.test"})
	})
	var mu sync.Mutex
	var putBody backend.ProjectUpdateRequest
	var puts int
	mux.HandleFunc("/projects/42", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			mu.Lock()
			puts++
			json.NewDecoder(r.Body).Decode(&putBody)
			mu.Unlock()
			return
		}
		http.Error(w, "not yet", http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctrl := newTestController(t, server.URL, 42)
	if err := ctrl.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := ctrl.Submit(context.Background(), "make me a blog"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if puts != 1 {
		t.Fatalf("project updated %d times, want 1", puts)
	}
	if putBody.DeploymentURL != "https://p.test" || putBody.Status != "ready" {
		t.Errorf("update body = %+v", putBody)
	}
}

func TestSubmitModifyStreamsReply(t *testing.T) {
	mux := baseMux(t, "")
	mux.HandleFunc("/projects/42", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":42,"status":"ready","deploymentUrl":"https://demo.test"}`))
	})
	var streamCalls int
	mux.HandleFunc("/modify/stream", func(w http.ResponseWriter, r *http.Request) {
		streamCalls++
		var req backend.ModifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode modify request: %v", err)
		}
		if req.Prompt != "add a footer" || req.SessionID != "s1" || req.ProjectID != 42 {
			t.Errorf("unexpected modify request: %+v", req)
		}
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"content\":\"Sure, \"}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"content\":\"adding it now.\"}\n\n")
		flusher.Flush()
	})
	mux.HandleFunc("/modify", func(w http.ResponseWriter, r *http.Request) {
		t.Error("plain modify must not be called when streaming works")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctrl := newTestController(t, server.URL, 42)
	if err := ctrl.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := ctrl.Submit(context.Background(), "add a footer"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if streamCalls != 1 {
		t.Errorf("stream endpoint hit %d times, want exactly 1", streamCalls)
	}
	msgs := ctrl.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want user + reply", len(msgs))
	}
	reply := msgs[1]
	if reply.Content != "Sure, adding it now." {
		t.Errorf("reply content = %q, want the accumulated stream", reply.Content)
	}
	if reply.Streaming {
		t.Error("reply still flagged as streaming after completion")
	}
	if ctrl.Status().State != StateReady {
		t.Errorf("state = %s, want ready", ctrl.Status().State)
	}
}

func TestModifyCarriesGeneratedStructure(t *testing.T) {
	structure := `{"files":["index.html","app.js"]}`
	mux := baseMux(t, "")
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"previewUrl":"https://p.test","projectStructure":%s}`, structure)
	})
	var mu sync.Mutex
	deployed := false
	mux.HandleFunc("/projects/42", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method == http.MethodPut {
			deployed = true
			return
		}
		if !deployed {
			http.Error(w, "not yet", http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"id":42,"status":"ready","deploymentUrl":"https://p.test"}`))
	})
	mux.HandleFunc("/modify/stream", func(w http.ResponseWriter, r *http.Request) {
		var req backend.ModifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode modify request: %v", err)
		}
		if got := string(req.ProjectStructure); got != structure {
			t.Errorf("projectStructure = %s, want the one captured at generation", got)
		}
		fmt.Fprint(w, "data: {\"content\":\"ok\"}\n\n")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctrl := newTestController(t, server.URL, 42)
	if err := ctrl.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := ctrl.Submit(context.Background(), "make me a blog"); err != nil {
		t.Fatalf("generate Submit: %v", err)
	}
	if err := ctrl.Submit(context.Background(), "add a footer"); err != nil {
		t.Fatalf("modify Submit: %v", err)
	}
}

func TestSubmitModifyStreamFailure(t *testing.T) {
	mux := baseMux(t, "")
	mux.HandleFunc("/projects/42", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":42,"status":"ready","deploymentUrl":"https://demo.test"}`))
	})
	mux.HandleFunc("/modify/stream", func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"content\":\"Sure, \"}\n\n")
		flusher.Flush()
		panic(http.ErrAbortHandler)
	})
	mux.HandleFunc("/modify", func(w http.ResponseWriter, r *http.Request) {
		t.Error("plain modify must not be called for a mid-stream failure")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctrl := newTestController(t, server.URL, 42)
	if err := ctrl.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := ctrl.Submit(context.Background(), "add a footer"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	msgs := ctrl.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want user + one synthesized reply", len(msgs))
	}
	if msgs[1].Role != chat.RoleAssistant || !strings.Contains(msgs[1].Content, "The modification failed") {
		t.Errorf("synthesized message = %+v", msgs[1])
	}
	for _, m := range msgs {
		if m.Streaming {
			t.Error("placeholder survived the failure")
		}
	}
	if ctrl.Status().State != StateReady {
		t.Errorf("state = %s, want ready; a handled stream failure keeps the page usable", ctrl.Status().State)
	}
}

func TestSubmitModifyFallsBackWithoutStreaming(t *testing.T) {
	mux := baseMux(t, "")
	mux.HandleFunc("/projects/42", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":42,"status":"ready","deploymentUrl":"https://demo.test"}`))
	})
	var streamCalls, plainCalls int
	mux.HandleFunc("/modify/stream", func(w http.ResponseWriter, r *http.Request) {
		streamCalls++
		http.Error(w, "streaming not supported", http.StatusNotImplemented)
	})
	mux.HandleFunc("/modify", func(w http.ResponseWriter, r *http.Request) {
		plainCalls++
		json.NewEncoder(w).Encode(map[string]string{"content": "done without streaming"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctrl := newTestController(t, server.URL, 42)
	if err := ctrl.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := ctrl.Submit(context.Background(), "add a footer"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if streamCalls != 1 || plainCalls != 1 {
		t.Errorf("stream=%d plain=%d, want one attempt each", streamCalls, plainCalls)
	}
	msgs := ctrl.Messages()
	var notes, replies int
	for _, m := range msgs {
		switch {
		case m.Role == chat.RoleSystem:
			notes++
			if !strings.Contains(m.Content, "Streaming is unavailable") {
				t.Errorf("note = %q", m.Content)
			}
		case m.Role == chat.RoleAssistant:
			replies++
			if m.Content != "done without streaming" {
				t.Errorf("reply = %q", m.Content)
			}
		}
	}
	if notes != 1 || replies != 1 {
		t.Errorf("notes=%d replies=%d, want 1 each", notes, replies)
	}

	// the capability is cached: later prompts skip the stream endpoint
	if err := ctrl.Submit(context.Background(), "tighten the spacing"); err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if streamCalls != 1 {
		t.Errorf("stream endpoint hit %d times after downgrade, want 1", streamCalls)
	}
	if plainCalls != 2 {
		t.Errorf("plain endpoint hit %d times, want 2", plainCalls)
	}
	notes = 0
	for _, m := range ctrl.Messages() {
		if m.Role == chat.RoleSystem {
			notes++
		}
	}
	if notes != 1 {
		t.Errorf("downgrade notes = %d, want exactly 1", notes)
	}
}

func TestSummaryCacheInvalidation(t *testing.T) {
	mux := baseMux(t, "")
	var summaryCalls, statsCalls int
	mux.HandleFunc("/conversation/summary", func(w http.ResponseWriter, r *http.Request) {
		summaryCalls++
		fmt.Fprintf(w, `{"summary":{"id":"sum%d","text":"v%d","messageCount":%d}}`, summaryCalls, summaryCalls, summaryCalls)
	})
	mux.HandleFunc("/conversation/stats", func(w http.ResponseWriter, r *http.Request) {
		statsCalls++
		fmt.Fprintf(w, `{"totalMessages":%d,"totalSummaries":1,"other":"ignored"}`, 10+statsCalls)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctrl := newTestController(t, server.URL, 0)
	if err := ctrl.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := ctrl.Summary(context.Background()); err != nil {
			t.Fatalf("Summary: %v", err)
		}
		if _, err := ctrl.Stats(context.Background()); err != nil {
			t.Fatalf("Stats: %v", err)
		}
	}
	if summaryCalls != 1 || statsCalls != 1 {
		t.Fatalf("summary=%d stats=%d calls, want 1 each within the TTL", summaryCalls, statsCalls)
	}

	if err := ctrl.Summarize(context.Background()); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	summary, err := ctrl.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary after invalidation: %v", err)
	}
	if summaryCalls != 2 {
		t.Errorf("summary endpoint hit %d times, want a refetch after summarize", summaryCalls)
	}
	if summary.Text != "v2" {
		t.Errorf("summary = %+v, want the refreshed one", summary)
	}
	stats, err := ctrl.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats after invalidation: %v", err)
	}
	if stats.TotalMessages != 12 || stats.TotalSummaries != 1 {
		t.Errorf("stats = %+v, want the refreshed counters", stats)
	}
}

func TestClearConversation(t *testing.T) {
	history := `{"messages":[
		{"id":"m1","content":"a","role":"user","timestamp":"2026-08-20T10:00:00Z"},
		{"id":"m2","content":"b","role":"assistant","timestamp":"2026-08-20T10:00:05Z"}
	]}`
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/session/create", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"sessionId": "s1"})
	})
	var deletes int
	mux.HandleFunc("/conversation", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(history))
		case http.MethodDelete:
			deletes++
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctrl := newTestController(t, server.URL, 0)
	if err := ctrl.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if got := ctrl.Status().Messages; got != 2 {
		t.Fatalf("messages after bootstrap = %d, want 2", got)
	}

	if err := ctrl.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := ctrl.Status().Messages; got != 0 {
		t.Errorf("messages after clear = %d, want 0", got)
	}
	if deletes != 1 {
		t.Errorf("delete endpoint hit %d times, want 1", deletes)
	}
}

func TestSubmitRejectedOutsideReady(t *testing.T) {
	server := httptest.NewServer(baseMux(t, ""))
	defer server.Close()

	ctrl := newTestController(t, server.URL, 0)

	// before bootstrap
	if err := ctrl.Submit(context.Background(), "hello"); err == nil {
		t.Fatal("Submit before bootstrap should be rejected")
	}
	if ctrl.Status().Messages != 0 {
		t.Error("rejected prompt must not be appended")
	}

	if err := ctrl.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	// mid-build
	if err := ctrl.machine.To(StateGenerating); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.Submit(context.Background(), "hello"); err == nil {
		t.Fatal("Submit while generating should be rejected")
	}
	if ctrl.Status().Messages != 0 {
		t.Error("rejected prompt must not be appended")
	}

	// empty input is a no-op, not an error
	if err := ctrl.Submit(context.Background(), "   "); err != nil {
		t.Errorf("blank input: %v", err)
	}
}

func TestDegradedSessionSkipsPersistence(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/session/create", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "sessions disabled", http.StatusInternalServerError)
	})
	mux.HandleFunc("/conversation", func(w http.ResponseWriter, r *http.Request) {
		t.Error("history must not be requested without a negotiated session")
	})
	mux.HandleFunc("/conversation/messages", func(w http.ResponseWriter, r *http.Request) {
		t.Error("messages must not be saved without a negotiated session")
	})
	mux.HandleFunc("/projects/42", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":42,"status":"ready","deploymentUrl":"https://demo.test"}`))
	})
	mux.HandleFunc("/modify/stream", func(w http.ResponseWriter, r *http.Request) {
		var req backend.ModifyRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.SessionID != "project_42" {
			t.Errorf("sessionId = %q, want the local fallback project_42", req.SessionID)
		}
		fmt.Fprint(w, "data: {\"content\":\"ok\"}\n\n")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctrl := newTestController(t, server.URL, 42)
	if err := ctrl.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	s := ctrl.Status()
	if s.Persistent {
		t.Error("session must degrade when negotiation fails")
	}
	if s.SessionID != "project_42" {
		t.Errorf("session id = %q, want project_42", s.SessionID)
	}

	if err := ctrl.Submit(context.Background(), "tweak the header"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := ctrl.Summary(context.Background()); !errors.Is(err, backend.ErrUnavailable) {
		t.Errorf("Summary err = %v, want ErrUnavailable", err)
	}
}
