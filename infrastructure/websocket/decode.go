package websocket

import (
	"chat-relay/domain"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"encoding/json"
	"fmt"
)

// Inbound event names.
const (
	JoinRoom    = "join-room"
	LeaveRoom   = "leave-room"
	SendMessage = "send-message"
	Typing      = "typing"
	StopTyping  = "stop-typing"
)

// envelope is the frame exchanged in both directions: {"event": name, "data": payload}.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type sendMessageData struct {
	Room      string `json:"room"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Color     string `json:"color"`
	Timestamp string `json:"timestamp"`
}

// decode turns a client frame into a coordinator command.
// Connect and disconnect never come from frames, they follow the socket lifecycle.
func decode(connectionID domain.ConnectionID, raw []byte) (chat.Command, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed frame: %v", errors.ErrValidation, err)
	}

	switch env.Event {
	case JoinRoom:
		room, err := decodeRoom(env.Data)
		if err != nil {
			return nil, err
		}
		return chat.JoinRoomCommand{Connection: connectionID, Room: room}, nil
	case LeaveRoom:
		room, err := decodeRoom(env.Data)
		if err != nil {
			return nil, err
		}
		return chat.LeaveRoomCommand{Connection: connectionID, Room: room}, nil
	case SendMessage:
		var data sendMessageData
		if err := unmarshalData(env.Data, &data); err != nil {
			return nil, err
		}
		return chat.SendMessageCommand{
			Connection:      connectionID,
			Room:            domain.RoomName(data.Room),
			Username:        data.Username,
			Body:            data.Message,
			Color:           data.Color,
			ClientTimestamp: data.Timestamp,
		}, nil
	case Typing, StopTyping:
		var data map[string]any
		if err := unmarshalData(env.Data, &data); err != nil {
			return nil, err
		}
		room, _ := data["room"].(string)
		return chat.TypingCommand{
			Connection: connectionID,
			Room:       domain.RoomName(room),
			Stopped:    env.Event == StopTyping,
			Data:       data,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownEvent, env.Event)
	}
}

// decodeRoom accepts the bare room name clients send, or an object carrying a room field.
func decodeRoom(data json.RawMessage) (domain.RoomName, error) {
	if len(data) == 0 || string(data) == "null" {
		return "", nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		return domain.RoomName(name), nil
	}
	var obj struct {
		Room string `json:"room"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", fmt.Errorf("%w: room name expected: %v", errors.ErrValidation, err)
	}
	return domain.RoomName(obj.Room), nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: invalid data: %v", errors.ErrValidation, err)
	}
	return nil
}
