//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// The supervisor restarts it when Run panics or fails
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// It is only used to label supervision logs.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Connection is the transport side of one client session.
// Send must not block: it either enqueues the event or fails with errors.ErrDelivery.
type Connection interface {
	ID() domain.ConnectionID
	Send(ctx context.Context, e event.Event) error
}

type IRegistry interface {
	Register(conn Connection)
	Unregister(connectionID domain.ConnectionID)
	Join(connectionID domain.ConnectionID, room domain.RoomName) bool
	Leave(connectionID domain.ConnectionID, room domain.RoomName) bool
	LeaveAll(connectionID domain.ConnectionID) []domain.RoomName
	CountOf(room domain.RoomName) int
	ConnectionsIn(room domain.RoomName) []Connection
	Connection(connectionID domain.ConnectionID) (Connection, bool)
}

type IBroadcaster interface {
	Broadcast(ctx context.Context, room domain.RoomName, e event.Event) int
	BroadcastExcept(ctx context.Context, room domain.RoomName, e event.Event, exclude domain.ConnectionID) int
	SendTo(ctx context.Context, connectionID domain.ConnectionID, e event.Event) bool
}

type IPresence interface {
	PublishCount(ctx context.Context, room domain.RoomName) int
}
