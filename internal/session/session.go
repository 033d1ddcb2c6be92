package session

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single chat message
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage stamps a message with the current time.
func NewMessage(role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now()}
}

// Session represents a chat session. The zero value is an inactive session.
type Session struct {
	ID        string        `json:"id"`
	Username  string        `json:"username"`
	Active    bool          `json:"active"`
	Remaining time.Duration `json:"remaining"`
	StartTime time.Time     `json:"start_time"`
	Messages  []Message     `json:"messages"`
}

// EndReason says why a session ended.
type EndReason string

const (
	ReasonLogout  EndReason = "logout"
	ReasonTimeout EndReason = "timeout"
)

func (s Session) clone() Session {
	out := s
	out.Messages = append([]Message(nil), s.Messages...)
	return out
}
