//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// DefaultHistoryLimit is the number of messages replayed when nothing else is configured.
const DefaultHistoryLimit = 100

const (
	messagePrefix     = "msg:"
	sequenceKey       = "seq:messages"
	sequenceBandwidth = 1000
)

type IMessageRepository interface {
	Append(ctx context.Context, message domain.Message) (domain.Message, error)
	History(ctx context.Context, room domain.RoomName, limit int) ([]domain.Message, error)
}

type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
	now func() time.Time

	mu  sync.Mutex
	seq *badger.Sequence
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) *MessageRepository {
	return &MessageRepository{
		db:  db,
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Append validates and persists a message.
// The key is formatted as "msg:{len(room)}:{room}:{sequence_padded}":
//  1. The length prefix keeps rooms such as "a" and "a:b" from sharing a key prefix.
//  2. The 20-digit sequence comes from a Badger Sequence, so keys sort in insertion order
//     even when two messages share the same timestamp.
//
// The returned message carries the server assigned ID and timestamps.
func (m *MessageRepository) Append(ctx context.Context, message domain.Message) (domain.Message, error) {
	if err := message.Validate(); err != nil {
		return domain.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, err)
	}

	seq, err := m.nextSequence()
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, err)
	}

	now := m.now()
	message.ID = uuid.New()
	message.CreatedAt = now
	message.UpdatedAt = now

	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(message.Room, seq), marshalMessage(message))
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, err)
	}
	return message, nil
}

// History returns up to limit most recent messages of the room, oldest first.
// It walks the room prefix backwards from the newest key and flips the result at the end.
func (m *MessageRepository) History(ctx context.Context, room domain.RoomName, limit int) ([]domain.Message, error) {
	messages := make([]domain.Message, 0)
	if limit <= 0 {
		return messages, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, err)
	}

	prefix := roomPrefix(room)
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// 0xFF sorts after every digit, so this lands on the newest key of the room
		seekKey := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if len(messages) == limit {
				m.log.Debug(fmt.Sprintf("Maximum of %d messages reached", limit), "room", room)
				break
			}
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			message, err := unmarshalMessage(value)
			if err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Rooms counts stored messages per room using a key-only scan.
func (m *MessageRepository) Rooms(ctx context.Context) (map[domain.RoomName]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, err)
	}
	rooms := make(map[domain.RoomName]int)
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		prefix := []byte(messagePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			room, ok := roomFromKey(string(it.Item().Key()))
			if !ok {
				m.log.Warn("Skipping malformed message key", "key", string(it.Item().Key()))
				continue
			}
			rooms[room]++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, err)
	}
	return rooms, nil
}

// Close hands back the unused part of the leased sequence range.
func (m *MessageRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seq == nil {
		return nil
	}
	err := m.seq.Release()
	m.seq = nil
	return err
}

// nextSequence leases the sequence lazily so read-only databases never need a write.
func (m *MessageRepository) nextSequence() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seq == nil {
		seq, err := m.db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
		if err != nil {
			return 0, err
		}
		m.seq = seq
	}
	return m.seq.Next()
}

func roomPrefix(room domain.RoomName) []byte {
	return []byte(fmt.Sprintf("%s%d:%s:", messagePrefix, len(room), room))
}

func messageKey(room domain.RoomName, seq uint64) []byte {
	return append(roomPrefix(room), []byte(fmt.Sprintf("%020d", seq))...)
}

func roomFromKey(key string) (domain.RoomName, bool) {
	rest, ok := strings.CutPrefix(key, messagePrefix)
	if !ok {
		return "", false
	}
	size, rest, ok := strings.Cut(rest, ":")
	if !ok {
		return "", false
	}
	n, err := strconv.Atoi(size)
	if err != nil || n < 0 || n >= len(rest) || rest[n] != ':' {
		return "", false
	}
	return domain.RoomName(rest[:n]), true
}
