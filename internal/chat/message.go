package chat

import "time"

// Message roles as they travel over the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message represents a single chat message. Content is mutable only while
// Streaming is set; a finalized message never changes again.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
	Streaming bool      `json:"streaming,omitempty"`
}
