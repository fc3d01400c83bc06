// Package chat holds the inbound commands handled by the coordinator.
// Every command is scoped to the connection that produced it.
package chat

import (
	"chat-relay/contract"
	"chat-relay/domain"
)

type Command interface {
	ConnectionID() domain.ConnectionID
}

type ConnectCommand struct {
	Conn contract.Connection
}

func (c ConnectCommand) ConnectionID() domain.ConnectionID { return c.Conn.ID() }

type JoinRoomCommand struct {
	Connection domain.ConnectionID
	Room       domain.RoomName
}

func (c JoinRoomCommand) ConnectionID() domain.ConnectionID { return c.Connection }

type LeaveRoomCommand struct {
	Connection domain.ConnectionID
	Room       domain.RoomName
}

func (c LeaveRoomCommand) ConnectionID() domain.ConnectionID { return c.Connection }

type SendMessageCommand struct {
	Connection      domain.ConnectionID
	Room            domain.RoomName
	Username        string
	Body            string
	Color           string
	ClientTimestamp string
}

func (c SendMessageCommand) ConnectionID() domain.ConnectionID { return c.Connection }

// Message builds the in-flight message, server fields are left to the store.
func (c SendMessageCommand) Message() domain.Message {
	return domain.Message{
		Room:            c.Room,
		Username:        c.Username,
		Body:            c.Body,
		Color:           c.Color,
		ClientTimestamp: c.ClientTimestamp,
	}
}

// TypingCommand covers both typing and stop-typing.
// Data is relayed untouched to the other members of the room.
type TypingCommand struct {
	Connection domain.ConnectionID
	Room       domain.RoomName
	Stopped    bool
	Data       map[string]any
}

func (c TypingCommand) ConnectionID() domain.ConnectionID { return c.Connection }

type DisconnectCommand struct {
	Connection domain.ConnectionID
}

func (c DisconnectCommand) ConnectionID() domain.ConnectionID { return c.Connection }
