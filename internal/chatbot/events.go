package chatbot

import (
	"VoiceChat/internal/health"
	"VoiceChat/internal/session"
)

// EventType identifies what changed.
type EventType string

const (
	EventStatus  EventType = "status"
	EventSession EventType = "session"
	EventMessage EventType = "message"
	EventTick    EventType = "tick"
	EventError   EventType = "error"
	EventEnded   EventType = "ended"
)

// Event is pushed to the front end whenever displayed state changes.
type Event struct {
	Type        EventType         `json:"type"`
	Status      health.Status     `json:"status,omitempty"`
	Username    string            `json:"username,omitempty"`
	Active      bool              `json:"active,omitempty"`
	RemainingMS int64             `json:"remaining_ms,omitempty"`
	Message     *session.Message  `json:"message,omitempty"`
	Error       string            `json:"error,omitempty"`
	Reason      session.EndReason `json:"reason,omitempty"`
}

// Observer receives events. Notify may be called from any goroutine.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) { f(e) }
