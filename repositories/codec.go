package repositories

import (
	"chat-relay/domain"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Stored messages use the protobuf wire format so fields can be added
// without rewriting existing records. Unknown fields are skipped on read.
const (
	fieldID              protowire.Number = 1
	fieldRoom            protowire.Number = 2
	fieldUsername        protowire.Number = 3
	fieldBody            protowire.Number = 4
	fieldColor           protowire.Number = 5
	fieldClientTimestamp protowire.Number = 6
	fieldCreatedAt       protowire.Number = 7
	fieldUpdatedAt       protowire.Number = 8
)

func marshalMessage(m domain.Message) []byte {
	var b []byte
	b = appendString(b, fieldID, m.ID.String())
	b = appendString(b, fieldRoom, m.Room.String())
	b = appendString(b, fieldUsername, m.Username)
	b = appendString(b, fieldBody, m.Body)
	b = appendString(b, fieldColor, m.Color)
	b = appendString(b, fieldClientTimestamp, m.ClientTimestamp)
	b = appendTime(b, fieldCreatedAt, m.CreatedAt)
	b = appendTime(b, fieldUpdatedAt, m.UpdatedAt)
	return b
}

func appendString(b []byte, num protowire.Number, value string) []byte {
	if value == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, value)
}

func appendTime(b []byte, num protowire.Number, value time.Time) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(value.UnixNano()))
}

func unmarshalMessage(b []byte) (domain.Message, error) {
	var m domain.Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return domain.Message{}, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType && num <= fieldClientTimestamp:
			value, n := protowire.ConsumeString(b)
			if n < 0 {
				return domain.Message{}, protowire.ParseError(n)
			}
			b = b[n:]
			if err := setString(&m, num, value); err != nil {
				return domain.Message{}, err
			}
		case typ == protowire.VarintType && (num == fieldCreatedAt || num == fieldUpdatedAt):
			value, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return domain.Message{}, protowire.ParseError(n)
			}
			b = b[n:]
			at := time.Unix(0, protowire.DecodeZigZag(value)).UTC()
			if num == fieldCreatedAt {
				m.CreatedAt = at
			} else {
				m.UpdatedAt = at
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return domain.Message{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return m, nil
}

func setString(m *domain.Message, num protowire.Number, value string) error {
	switch num {
	case fieldID:
		id, err := uuid.Parse(value)
		if err != nil {
			return fmt.Errorf("invalid message id %q: %w", value, err)
		}
		m.ID = id
	case fieldRoom:
		m.Room = domain.RoomName(value)
	case fieldUsername:
		m.Username = value
	case fieldBody:
		m.Body = value
	case fieldColor:
		m.Color = value
	case fieldClientTimestamp:
		m.ClientTimestamp = value
	}
	return nil
}
