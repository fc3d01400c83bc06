// Package event defines what the relay pushes to connections.
package event

import (
	"chat-relay/domain"
	"time"

	"github.com/samber/lo"
)

type Name string

const (
	ChatHistory    Name = "chat-history"
	Message        Name = "message"
	UserCount      Name = "user-count"
	UserTyping     Name = "user-typing"
	UserStopTyping Name = "user-stop-typing"
)

// Event is one outbound frame. Payload is serialized as-is by the transport.
type Event struct {
	Name    Name `json:"event"`
	Payload any  `json:"data"`
}

func New(name Name, payload any) Event {
	return Event{Name: name, Payload: payload}
}

// MessagePayload mirrors the send-message body as the client sent it.
type MessagePayload struct {
	Room      string `json:"room"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Color     string `json:"color,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// HistoryEntry is a stored message as replayed in chat-history.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Color     string    `json:"color,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func NewMessagePayload(m domain.Message) MessagePayload {
	return MessagePayload{
		Room:      m.Room.String(),
		Username:  m.Username,
		Message:   m.Body,
		Color:     m.Color,
		Timestamp: m.ClientTimestamp,
	}
}

// NewHistory never returns nil so an empty history still encodes as a list.
func NewHistory(messages []domain.Message) []HistoryEntry {
	return lo.Map(messages, func(m domain.Message, _ int) HistoryEntry {
		return HistoryEntry{
			ID:        m.ID.String(),
			Room:      m.Room.String(),
			Username:  m.Username,
			Message:   m.Body,
			Color:     m.Color,
			Timestamp: m.ClientTimestamp,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		}
	})
}
