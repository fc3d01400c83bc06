package domain

import "github.com/google/uuid"

// ConnectionID identifies one live client session on the realtime transport.
// It is never persisted.
type ConnectionID string

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

func (c ConnectionID) String() string { return string(c) }
