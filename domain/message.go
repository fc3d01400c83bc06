// Package domain contains core concepts of the chat relay.
// This file defines chat messages and their validation rules.
// Messages are immutable once the store has accepted them.
package domain

import (
	"chat-relay/errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// Message represents a chat message as persisted by the store.
// ID, CreatedAt and UpdatedAt are assigned by the server on append.
type Message struct {
	ID              uuid.UUID
	Room            RoomName `validate:"required"`
	Username        string   `validate:"required"`
	Body            string   `validate:"required"`
	Color           string
	ClientTimestamp string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate checks the required fields and wraps any failure in ErrValidation.
func (m Message) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	return nil
}
