package backend

import (
	"encoding/json"
	"time"
)

// SessionCreateRequest represents the request body for session creation.
type SessionCreateRequest struct {
	ProjectID int64 `json:"projectId,omitempty"`
}

// SessionCreateResponse represents the response from session creation.
type SessionCreateResponse struct {
	SessionID string `json:"sessionId"`
}

// ConversationSummary is a read-only snapshot of the server-side summary,
// replaced wholesale on every refresh.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ConversationStats carries conversation counters. The backend may send more
// fields; unknown ones are ignored.
type ConversationStats struct {
	TotalMessages  int `json:"totalMessages"`
	TotalSummaries int `json:"totalSummaries"`
}

// GenerateRequest represents the request body for initial app generation.
type GenerateRequest struct {
	Prompt    string `json:"prompt"`
	ProjectID int64  `json:"projectId"`
}

// GenerateResponse represents the response from app generation. The backend
// may attach the structure of the app it built; clients hold it and pass it
// back verbatim on modification calls.
type GenerateResponse struct {
	PreviewURL       string          `json:"previewUrl"`
	ProjectStructure json.RawMessage `json:"projectStructure,omitempty"`
}

// ModifyRequest represents the request body shared by the modification
// endpoints. ProjectStructure is backend-defined and passed through opaque.
type ModifyRequest struct {
	Prompt           string          `json:"prompt"`
	SessionID        string          `json:"sessionId"`
	ProjectID        int64           `json:"projectId"`
	ProjectStructure json.RawMessage `json:"projectStructure,omitempty"`
}

// ModifyResponse represents the non-streaming modification response; the
// backend answers with either field.
type ModifyResponse struct {
	Content string `json:"content"`
	Message string `json:"message"`
}

// Text returns whichever reply field the backend populated.
func (r ModifyResponse) Text() string {
	if r.Content != "" {
		return r.Content
	}
	return r.Message
}

// ProjectUpdateRequest represents the request body for mirroring a deployment
// back onto the project record.
type ProjectUpdateRequest struct {
	DeploymentURL string `json:"deploymentUrl"`
	Status        string `json:"status"`
}
