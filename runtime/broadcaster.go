package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"log/slog"
)

// Broadcaster fans events out to the members of a room.
//
// Delivery is best effort: a connection that cannot take the event is skipped
// and the remaining members still receive it. Connection.Send only enqueues,
// so events broadcast to a room leave in the order Broadcast was called.
type Broadcaster struct {
	log      *slog.Logger
	registry contract.IRegistry
}

func NewBroadcaster(log *slog.Logger, registry contract.IRegistry) *Broadcaster {
	return &Broadcaster{log: log, registry: registry}
}

// Broadcast delivers the event to every member of the room and returns how many accepted it.
func (b *Broadcaster) Broadcast(ctx context.Context, room domain.RoomName, e event.Event) int {
	return b.fanout(ctx, room, e, nil)
}

// BroadcastExcept delivers the event to every member of the room but exclude.
func (b *Broadcaster) BroadcastExcept(ctx context.Context, room domain.RoomName, e event.Event, exclude domain.ConnectionID) int {
	return b.fanout(ctx, room, e, &exclude)
}

// SendTo delivers the event to a single connection.
func (b *Broadcaster) SendTo(ctx context.Context, connectionID domain.ConnectionID, e event.Event) bool {
	conn, ok := b.registry.Connection(connectionID)
	if !ok {
		b.log.Debug("Connection gone, event dropped", "connection_id", connectionID, "event", e.Name)
		return false
	}
	return b.deliver(ctx, conn, e)
}

func (b *Broadcaster) fanout(ctx context.Context, room domain.RoomName, e event.Event, exclude *domain.ConnectionID) int {
	delivered := 0
	for _, conn := range b.registry.ConnectionsIn(room) {
		if exclude != nil && conn.ID() == *exclude {
			continue
		}
		if b.deliver(ctx, conn, e) {
			delivered++
		}
	}
	return delivered
}

// deliver treats a panicking transport like an unreachable one.
func (b *Broadcaster) deliver(ctx context.Context, conn contract.Connection, e event.Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Delivery panicked", "connection_id", conn.ID(), "event", e.Name, "panic", r)
			ok = false
		}
	}()
	if err := conn.Send(ctx, e); err != nil {
		b.log.Debug("Delivery skipped",
			"connection_id", conn.ID(),
			"event", e.Name,
			"error", err)
		return false
	}
	return true
}
