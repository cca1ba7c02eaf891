package chat

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrStreamingInProgress is returned when a second streaming placeholder
	// is requested while one is still open.
	ErrStreamingInProgress = errors.New("a streaming message is already in progress")

	// ErrMessageFinalized is returned on attempts to mutate a message whose
	// streaming flag has been cleared.
	ErrMessageFinalized = errors.New("message is finalized and immutable")
)

// Log owns the ordered message list for one page lifetime. All mutation of
// message content after creation goes through the streaming placeholder
// methods; everything else is append, remove, or wholesale replacement.
type Log struct {
	mu       sync.Mutex
	messages []Message
}

// NewLog returns an empty message log.
func NewLog() *Log {
	return &Log{messages: []Message{}}
}

// Append adds a finalized message and returns it with its assigned id.
func (l *Log) Append(role, content string) Message {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}

	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()

	return msg
}

// ReplaceAll swaps the whole list for the provided history snapshot.
func (l *Log) ReplaceAll(messages []Message) {
	copied := make([]Message, len(messages))
	copy(copied, messages)

	l.mu.Lock()
	l.messages = copied
	l.mu.Unlock()
}

// Clear empties the list.
func (l *Log) Clear() {
	l.mu.Lock()
	l.messages = l.messages[:0]
	l.mu.Unlock()
}

// BeginStreaming appends an empty assistant placeholder and returns it. At
// most one placeholder may be open at a time; callers must keep the returned
// id for later mutation, finalization, or removal.
func (l *Log) BeginStreaming() (Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, m := range l.messages {
		if m.Streaming {
			return Message{}, ErrStreamingInProgress
		}
	}

	msg := Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		CreatedAt: time.Now(),
		Streaming: true,
	}
	l.messages = append(l.messages, msg)
	return msg, nil
}

// SetStreamingContent replaces the placeholder's content with the accumulated
// text. Each call is atomic with respect to readers; fragments must be applied
// in receipt order by the single caller driving the stream.
func (l *Log) SetStreamingContent(id, content string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.messages {
		if l.messages[i].ID != id {
			continue
		}
		if !l.messages[i].Streaming {
			return ErrMessageFinalized
		}
		l.messages[i].Content = content
		return nil
	}
	return fmt.Errorf("no message with id %s", id)
}

// Finalize clears the placeholder's streaming flag, freezing its content.
func (l *Log) Finalize(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.messages {
		if l.messages[i].ID != id {
			continue
		}
		if !l.messages[i].Streaming {
			return ErrMessageFinalized
		}
		l.messages[i].Streaming = false
		return nil
	}
	return fmt.Errorf("no message with id %s", id)
}

// Discard removes the message with the given id. Callers must pass the id
// captured at placeholder creation, never a freshly derived value.
func (l *Log) Discard(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.messages {
		if l.messages[i].ID == id {
			l.messages = append(l.messages[:i], l.messages[i+1:]...)
			return true
		}
	}
	return false
}

// Messages returns a snapshot copy of the list.
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	copied := make([]Message, len(l.messages))
	copy(copied, l.messages)
	return copied
}

// Len reports the number of messages.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// StreamingCount reports how many messages are currently streaming; it never
// legitimately exceeds one.
func (l *Log) StreamingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, m := range l.messages {
		if m.Streaming {
			n++
		}
	}
	return n
}
