package runtime

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"sync"

	"github.com/samber/lo"
)

// recorder is an in-memory connection keeping every event it accepted.
type recorder struct {
	id     domain.ConnectionID
	mu     sync.Mutex
	events []event.Event
	closed bool
}

func newRecorder() *recorder {
	return &recorder{id: domain.NewConnectionID()}
}

func (r *recorder) ID() domain.ConnectionID { return r.id }

func (r *recorder) Send(_ context.Context, e event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.ErrDelivery
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recorder) received(name event.Name) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Filter(r.events, func(e event.Event, _ int) bool { return e.Name == name })
}

func (r *recorder) all() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

// counts returns every user-count value received, in order.
func (r *recorder) counts() []int {
	return lo.Map(r.received(event.UserCount), func(e event.Event, _ int) int { return e.Payload.(int) })
}
