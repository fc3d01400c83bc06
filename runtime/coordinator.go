package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/chat"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/repositories"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
)

// PersistFailurePolicy decides whether a message that could not be stored is still relayed.
type PersistFailurePolicy string

const (
	BroadcastOnPersistFailure PersistFailurePolicy = "broadcast"
	SuppressOnPersistFailure  PersistFailurePolicy = "suppress"
)

func ParsePersistFailurePolicy(s string) (PersistFailurePolicy, error) {
	switch policy := PersistFailurePolicy(s); policy {
	case BroadcastOnPersistFailure, SuppressOnPersistFailure:
		return policy, nil
	default:
		return "", fmt.Errorf("%w: %q", errors.ErrInvalidFailurePolicy, s)
	}
}

// resumeCommand carries the continuation of a handler whose storage call completed.
// It is handled on the loop so that registry access and broadcasts stay there.
type resumeCommand struct {
	connection domain.ConnectionID
	next       func(ctx context.Context)
}

func (r resumeCommand) ConnectionID() domain.ConnectionID { return r.connection }

// storageWork runs off the loop and returns the continuation to run back on it.
type storageWork func(ctx context.Context) func(context.Context)

// Coordinator is the single event loop of the relay.
// Commands are handled one at a time. Storage calls of one connection run in order on
// that connection's lane and resume on the loop in the same order, so a slow database
// only delays the connection waiting on it. A full lane stalls the loop, which in turn
// makes Dispatch block.
type Coordinator struct {
	log              *slog.Logger
	registry         contract.IRegistry
	broadcaster      contract.IBroadcaster
	presence         contract.IPresence
	repository       repositories.IMessageRepository
	commands         chan chat.Command
	resumes          chan resumeCommand
	storageQueueSize int
	historyLimit     int
	policy           PersistFailurePolicy
	// lanes is only touched by the loop.
	lanes    map[domain.ConnectionID]chan storageWork
	inflight sync.WaitGroup
}

func NewCoordinator(log *slog.Logger, registry contract.IRegistry, broadcaster contract.IBroadcaster,
	presence contract.IPresence, repository repositories.IMessageRepository,
	bufferSize, storageQueueSize, historyLimit int, policy PersistFailurePolicy) *Coordinator {
	return &Coordinator{
		log:              log,
		registry:         registry,
		broadcaster:      broadcaster,
		presence:         presence,
		repository:       repository,
		commands:         make(chan chat.Command, bufferSize),
		resumes:          make(chan resumeCommand, bufferSize),
		storageQueueSize: storageQueueSize,
		historyLimit:     historyLimit,
		policy:           policy,
		lanes:            make(map[domain.ConnectionID]chan storageWork),
	}
}

// Dispatch queues a command for the loop.
// It blocks while the queue is full, a connection dispatching sequentially keeps its order.
func (c *Coordinator) Dispatch(ctx context.Context, cmd chat.Command) error {
	select {
	case c.commands <- cmd:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", errors.ErrCoordinatorStopped, ctx.Err())
	}
}

func (c *Coordinator) Run(ctx context.Context) error {
	c.log.Info("Chat coordinator started")
	for {
		select {
		case <-ctx.Done():
			c.log.Debug("Stopping chat coordinator")
			c.closeLanes()
			return ctx.Err()
		case resume := <-c.resumes:
			c.handle(ctx, resume)
		case cmd := <-c.commands:
			c.handle(ctx, cmd)
		}
	}
}

// QueueStats reports how full the inbound queue is.
func (c *Coordinator) QueueStats() (length, capacity int) {
	return len(c.commands), cap(c.commands)
}

// Drain waits for queued storage calls, bounded by ctx.
// Only meaningful once Run returned.
func (c *Coordinator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handle isolates every command: a panic is logged and the loop moves on.
func (c *Coordinator) handle(ctx context.Context, cmd chat.Command) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Command handler panicked",
				"command", fmt.Sprintf("%T", cmd),
				"panic", r)
		}
	}()

	switch cmd := cmd.(type) {
	case chat.ConnectCommand:
		c.connect(cmd)
	case chat.JoinRoomCommand:
		c.join(ctx, cmd)
	case chat.LeaveRoomCommand:
		c.leave(ctx, cmd)
	case chat.SendMessageCommand:
		c.send(ctx, cmd)
	case chat.TypingCommand:
		c.typing(ctx, cmd)
	case chat.DisconnectCommand:
		c.disconnect(ctx, cmd)
	case resumeCommand:
		cmd.next(ctx)
	default:
		c.log.Warn("Unknown command ignored", "command", fmt.Sprintf("%T", cmd))
	}
}

func (c *Coordinator) connect(cmd chat.ConnectCommand) {
	if cmd.Conn == nil {
		c.log.Warn("Connect without transport ignored")
		return
	}
	c.registry.Register(cmd.Conn)
	c.log.Info("Connection opened", "connection_id", cmd.Conn.ID())
}

// join replays the room history to the joining connection only, then publishes the count.
func (c *Coordinator) join(ctx context.Context, cmd chat.JoinRoomCommand) {
	room := domain.NewRoomName(cmd.Room.String())
	if c.registry.Join(cmd.Connection, room) {
		c.log.Info("Room joined", "connection_id", cmd.Connection, "room", room)
	}

	c.submit(ctx, cmd.Connection, func(ctx context.Context) func(context.Context) {
		messages, err := c.repository.History(ctx, room, c.historyLimit)
		return func(ctx context.Context) {
			if err != nil {
				c.log.Error("History not replayed",
					"connection_id", cmd.Connection,
					"room", room,
					"error", err)
			} else {
				c.broadcaster.SendTo(ctx, cmd.Connection, event.New(event.ChatHistory, event.NewHistory(messages)))
			}
			c.presence.PublishCount(ctx, room)
		}
	})
}

func (c *Coordinator) leave(ctx context.Context, cmd chat.LeaveRoomCommand) {
	room := domain.NewRoomName(cmd.Room.String())
	if !c.registry.Leave(cmd.Connection, room) {
		return
	}
	c.log.Info("Room left", "connection_id", cmd.Connection, "room", room)
	c.presence.PublishCount(ctx, room)
}

// send stores the message, then echoes the client payload to the whole room, sender included.
// A storage failure only suppresses the echo under SuppressOnPersistFailure.
func (c *Coordinator) send(ctx context.Context, cmd chat.SendMessageCommand) {
	cmd.Room = domain.NewRoomName(cmd.Room.String())
	message := cmd.Message()
	if err := message.Validate(); err != nil {
		c.log.Warn("Message rejected", "connection_id", cmd.Connection, "room", cmd.Room, "error", err)
		return
	}
	payload := event.New(event.Message, event.NewMessagePayload(message))

	c.submit(ctx, cmd.Connection, func(ctx context.Context) func(context.Context) {
		_, err := c.repository.Append(ctx, message)
		return func(ctx context.Context) {
			if err != nil {
				c.log.Error("Message not persisted",
					"connection_id", cmd.Connection,
					"room", message.Room,
					"policy", c.policy,
					"error", err)
				if stderrors.Is(err, errors.ErrValidation) || c.policy == SuppressOnPersistFailure {
					return
				}
			}
			c.broadcaster.Broadcast(ctx, message.Room, payload)
		}
	})
}

func (c *Coordinator) typing(ctx context.Context, cmd chat.TypingCommand) {
	room := domain.NewRoomName(cmd.Room.String())
	name := event.UserTyping
	if cmd.Stopped {
		name = event.UserStopTyping
	}
	data := cmd.Data
	if data == nil {
		data = map[string]any{"room": room.String()}
	}
	c.broadcaster.BroadcastExcept(ctx, room, event.New(name, data), cmd.Connection)
}

// disconnect drops every membership and publishes presence for the affected rooms only.
func (c *Coordinator) disconnect(ctx context.Context, cmd chat.DisconnectCommand) {
	rooms := c.registry.LeaveAll(cmd.Connection)
	c.registry.Unregister(cmd.Connection)
	c.closeLane(cmd.Connection)
	for _, room := range rooms {
		c.presence.PublishCount(ctx, room)
	}
	c.log.Info("Connection closed", "connection_id", cmd.Connection, "rooms", len(rooms))
}

// submit queues work on the connection's lane.
// While the lane is full the loop keeps running continuations but takes no new command.
func (c *Coordinator) submit(ctx context.Context, connectionID domain.ConnectionID, work storageWork) {
	lane := c.laneFor(ctx, connectionID)
	for {
		select {
		case lane <- work:
			return
		case resume := <-c.resumes:
			c.handle(ctx, resume)
		case <-ctx.Done():
			c.log.Warn("Coordinator stopped before storage call", "connection_id", connectionID)
			return
		}
	}
}

func (c *Coordinator) laneFor(ctx context.Context, connectionID domain.ConnectionID) chan storageWork {
	if lane, ok := c.lanes[connectionID]; ok {
		return lane
	}
	lane := make(chan storageWork, c.storageQueueSize)
	c.lanes[connectionID] = lane
	c.inflight.Add(1)
	go c.runLane(ctx, connectionID, lane)
	return lane
}

// runLane runs one connection's storage calls in submission order.
// Storage outlives the loop context so that queued messages are still written on shutdown,
// their continuations are then dropped.
func (c *Coordinator) runLane(ctx context.Context, connectionID domain.ConnectionID, lane <-chan storageWork) {
	defer c.inflight.Done()
	storageCtx := context.WithoutCancel(ctx)
	for work := range lane {
		next := c.safeWork(storageCtx, connectionID, work)
		if next == nil {
			continue
		}
		select {
		case c.resumes <- resumeCommand{connection: connectionID, next: next}:
		case <-ctx.Done():
			c.log.Warn("Coordinator stopped before command completion", "connection_id", connectionID)
		}
	}
}

// closeLane lets the lane finish what is queued, a disconnect never cancels a pending send.
func (c *Coordinator) closeLane(connectionID domain.ConnectionID) {
	if lane, ok := c.lanes[connectionID]; ok {
		close(lane)
		delete(c.lanes, connectionID)
	}
}

func (c *Coordinator) closeLanes() {
	for connectionID := range c.lanes {
		c.closeLane(connectionID)
	}
}

func (c *Coordinator) safeWork(ctx context.Context, connectionID domain.ConnectionID,
	work storageWork) (next func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Storage call panicked", "connection_id", connectionID, "panic", r)
			next = nil
		}
	}()
	return work(ctx)
}
