package domain

import "strings"

// DefaultRoom is used whenever a client does not name a room.
const DefaultRoom RoomName = "general"

type RoomName string

// NewRoomName falls back to DefaultRoom when raw is blank.
// Any other name is kept as sent by the client.
func NewRoomName(raw string) RoomName {
	if strings.TrimSpace(raw) == "" {
		return DefaultRoom
	}
	return RoomName(raw)
}

func (r RoomName) String() string { return string(r) }
