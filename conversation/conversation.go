// Package conversation holds the ordered message history of one advisor chat.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KamdynS/advisor/frame"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one immutable entry in a conversation.
type Message struct {
	Role     Role            `json:"role"`
	Content  string          `json:"content"`
	Metadata *frame.Metadata `json:"trustMetadata,omitempty"`
	// Incomplete marks an assistant message cut short by an error or cancellation.
	Incomplete bool      `json:"incomplete,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Snapshot is a point-in-time copy of a conversation handed to persistence.
type Snapshot struct {
	Key       string    `json:"key"`
	SessionID string    `json:"session_id,omitempty"`
	Mode      string    `json:"mode"`
	Turn      int       `json:"turn"`
	Messages  []Message `json:"messages"`
}

// Conversation is safe for concurrent use.
type Conversation struct {
	mu        sync.RWMutex
	key       string
	sessionID string
	mode      string
	turn      int
	messages  []Message
}

// New starts an empty conversation in the given mode.
func New(mode string) *Conversation {
	return &Conversation{key: uuid.NewString(), mode: mode}
}

// Restore rebuilds a previously persisted conversation.
func Restore(sessionID, mode string, messages []Message) *Conversation {
	c := New(mode)
	c.sessionID = sessionID
	c.messages = append([]Message(nil), messages...)
	for _, m := range messages {
		if m.Role == RoleUser {
			c.turn++
		}
	}
	return c
}

// Key is a process-local identity, stable even before a session id exists.
func (c *Conversation) Key() string { return c.key }

// SessionID returns the persisted session id, or "" before the first save.
func (c *Conversation) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// AttachSession records the id assigned by storage. Once set it never changes;
// the return value reports whether id is the conversation's session id.
func (c *Conversation) AttachSession(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == "" {
		c.sessionID = id
	}
	return c.sessionID == id
}

// Mode returns the currently selected operating mode.
func (c *Conversation) Mode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// SetMode selects the mode used by subsequent sends.
func (c *Conversation) SetMode(mode string) {
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
}

// Turn returns the number of user turns started so far.
func (c *Conversation) Turn() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.turn
}

// AppendUser adds a user message and starts a new turn, returning its number.
func (c *Conversation) AppendUser(content string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, Message{Role: RoleUser, Content: content, CreatedAt: time.Now().UTC()})
	c.turn++
	return c.turn
}

// AppendAssistant adds a sealed assistant message.
func (c *Conversation) AppendAssistant(content string, md *frame.Metadata, incomplete bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, Message{
		Role:       RoleAssistant,
		Content:    content,
		Metadata:   md.Clone(),
		Incomplete: incomplete,
		CreatedAt:  time.Now().UTC(),
	})
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneMessages(c.messages)
}

// Snapshot copies the conversation for persistence.
func (c *Conversation) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Key:       c.key,
		SessionID: c.sessionID,
		Mode:      c.mode,
		Turn:      c.turn,
		Messages:  cloneMessages(c.messages),
	}
}

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		m.Metadata = m.Metadata.Clone()
		out[i] = m
	}
	return out
}

// Summary returns the first user message, truncated to 100 runes.
func Summary(messages []Message) string {
	const max = 100
	for _, m := range messages {
		if m.Role != RoleUser {
			continue
		}
		r := []rune(m.Content)
		if len(r) <= max {
			return m.Content
		}
		return string(r[:max]) + "..."
	}
	return ""
}
