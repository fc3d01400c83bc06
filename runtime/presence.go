package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"log/slog"
)

// Presence publishes room occupancy, always read live from the registry.
type Presence struct {
	log         *slog.Logger
	registry    contract.IRegistry
	broadcaster contract.IBroadcaster
}

func NewPresence(log *slog.Logger, registry contract.IRegistry, broadcaster contract.IBroadcaster) *Presence {
	return &Presence{log: log, registry: registry, broadcaster: broadcaster}
}

// PublishCount broadcasts user-count for one room and returns the published value.
func (p *Presence) PublishCount(ctx context.Context, room domain.RoomName) int {
	count := p.registry.CountOf(room)
	p.broadcaster.Broadcast(ctx, room, event.New(event.UserCount, count))
	p.log.Debug("Presence published", "room", room, "count", count)
	return count
}
