package runtime

import (
	"chat-relay/domain"
	"chat-relay/domain/chat"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/repositories"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fixture struct {
	ctx         context.Context
	registry    *Registry
	coordinator *Coordinator
}

func newFixture(t *testing.T, repository repositories.IMessageRepository, policy PersistFailurePolicy) *fixture {
	t.Helper()
	return newSizedFixture(t, repository, policy, 64, 16)
}

func newSizedFixture(t *testing.T, repository repositories.IMessageRepository, policy PersistFailurePolicy,
	bufferSize, storageQueueSize int) *fixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	registry := NewRegistry()
	broadcaster := NewBroadcaster(log, registry)
	presence := NewPresence(log, registry, broadcaster)
	return startFixture(t, NewCoordinator(log, registry, broadcaster, presence, repository,
		bufferSize, storageQueueSize, repositories.DefaultHistoryLimit, policy), registry)
}

func startFixture(t *testing.T, coordinator *Coordinator, registry *Registry) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = coordinator.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = coordinator.Drain(context.Background())
	})
	return &fixture{ctx: ctx, registry: registry, coordinator: coordinator}
}

func (f *fixture) dispatch(t *testing.T, commands ...chat.Command) {
	t.Helper()
	for _, cmd := range commands {
		require.NoError(t, f.coordinator.Dispatch(f.ctx, cmd))
	}
}

// connectAndJoin connects every recorder to the room and waits until each saw its own count.
func (f *fixture) connectAndJoin(t *testing.T, room domain.RoomName, recorders ...*recorder) {
	t.Helper()
	for _, r := range recorders {
		f.dispatch(t, chat.ConnectCommand{Conn: r}, chat.JoinRoomCommand{Connection: r.ID(), Room: room})
		require.Eventually(t, func() bool { return len(r.counts()) > 0 }, waitFor, tick)
	}
}

func newBadgerRepository(t *testing.T) *repositories.MessageRepository {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	repository := repositories.NewMessageRepository(db, logs.GetLoggerFromLevel(slog.LevelDebug))
	t.Cleanup(func() {
		_ = repository.Close()
		_ = db.Close()
	})
	return repository
}

func emptyHistory(repository *mocks.MockIMessageRepository) {
	repository.EXPECT().
		History(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]domain.Message{}, nil).
		AnyTimes()
}

func TestCoordinator_Join_Default_Room_Then_Send(t *testing.T) {
	req := require.New(t)
	repository := newBadgerRepository(t)
	f := newFixture(t, repository, BroadcastOnPersistFailure)
	a, b := newRecorder(), newRecorder()

	// Given A joins without naming a room
	f.dispatch(t, chat.ConnectCommand{Conn: a}, chat.JoinRoomCommand{Connection: a.ID()})
	req.Eventually(func() bool { return len(a.counts()) == 1 }, waitFor, tick)

	// Then A received an empty history first, then a count of 1
	events := a.all()
	req.Len(events, 2)
	req.Equal(event.ChatHistory, events[0].Name)
	req.Empty(events[0].Payload.([]event.HistoryEntry))
	req.Equal(event.New(event.UserCount, 1), events[1])
	req.Equal(1, f.registry.CountOf(domain.DefaultRoom))

	// Given B joins general as well
	f.dispatch(t, chat.ConnectCommand{Conn: b}, chat.JoinRoomCommand{Connection: b.ID(), Room: "general"})
	req.Eventually(func() bool { return len(a.counts()) == 2 }, waitFor, tick)
	req.Equal([]int{1, 2}, a.counts())

	// When A sends a message without naming a room
	f.dispatch(t, chat.SendMessageCommand{Connection: a.ID(), Username: "alice", Body: "hi"})

	// Then A and B each receive exactly one message
	req.Eventually(func() bool {
		return len(a.received(event.Message)) == 1 && len(b.received(event.Message)) == 1
	}, waitFor, tick)
	payload := b.received(event.Message)[0].Payload.(event.MessagePayload)
	req.Equal("hi", payload.Message)
	req.Equal("alice", payload.Username)
	req.Equal("general", payload.Room)

	// And the message was stored
	history, err := repository.History(context.Background(), domain.DefaultRoom, repositories.DefaultHistoryLimit)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal("hi", history[0].Body)
}

func TestCoordinator_Join_Replays_History_To_Joiner_Only(t *testing.T) {
	req := require.New(t)
	repository := newBadgerRepository(t)
	for i := 0; i < 3; i++ {
		_, err := repository.Append(context.Background(), domain.Message{
			Room: "general", Username: "bob", Body: fmt.Sprintf("%d", i),
		})
		req.NoError(err)
	}
	f := newFixture(t, repository, BroadcastOnPersistFailure)
	a, b := newRecorder(), newRecorder()
	f.connectAndJoin(t, "general", a)

	// When B joins
	f.connectAndJoin(t, "general", b)
	req.Eventually(func() bool { return len(a.counts()) == 2 }, waitFor, tick)

	// Then B got the whole backlog oldest first
	histories := b.received(event.ChatHistory)
	req.Len(histories, 1)
	entries := histories[0].Payload.([]event.HistoryEntry)
	req.Len(entries, 3)
	for i, entry := range entries {
		req.Equal(fmt.Sprintf("%d", i), entry.Message)
	}
	// And A only got its own replay
	req.Len(a.received(event.ChatHistory), 1)
}

func TestCoordinator_Duplicate_Join_Counts_Once(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repository := mocks.NewMockIMessageRepository(ctrl)
	emptyHistory(repository)
	f := newFixture(t, repository, BroadcastOnPersistFailure)
	a := newRecorder()

	f.connectAndJoin(t, "general", a)
	f.dispatch(t, chat.JoinRoomCommand{Connection: a.ID(), Room: "general"})
	req.Eventually(func() bool { return len(a.counts()) == 2 }, waitFor, tick)

	req.Equal([]int{1, 1}, a.counts())
	req.Equal(1, f.registry.CountOf("general"))
}

func TestCoordinator_Typing_Never_Reaches_Sender(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repository := mocks.NewMockIMessageRepository(ctrl)
	emptyHistory(repository)
	f := newFixture(t, repository, BroadcastOnPersistFailure)
	a, b := newRecorder(), newRecorder()
	f.connectAndJoin(t, "x", a, b)

	data := map[string]any{"room": "x", "username": "alice"}

	// When A types then stops
	f.dispatch(t,
		chat.TypingCommand{Connection: a.ID(), Room: "x", Data: data},
		chat.TypingCommand{Connection: a.ID(), Room: "x", Data: data, Stopped: true},
	)

	// Then only B is told, with the data untouched
	req.Eventually(func() bool { return len(b.received(event.UserStopTyping)) == 1 }, waitFor, tick)
	typing := b.received(event.UserTyping)
	req.Len(typing, 1)
	req.Equal(data, typing[0].Payload)
	req.Empty(a.received(event.UserTyping))
	req.Empty(a.received(event.UserStopTyping))
}

func TestCoordinator_Broadcasts_When_Persistence_Fails(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repository := mocks.NewMockIMessageRepository(ctrl)
	emptyHistory(repository)
	repository.EXPECT().
		Append(gomock.Any(), gomock.Any()).
		Return(domain.Message{}, errors.ErrStorageUnavailable).
		Times(1)
	f := newFixture(t, repository, BroadcastOnPersistFailure)
	a, b := newRecorder(), newRecorder()
	f.connectAndJoin(t, "general", a, b)

	f.dispatch(t, chat.SendMessageCommand{Connection: a.ID(), Room: "general", Username: "alice", Body: "hi"})

	// Then everybody, sender included, still sees the message
	req.Eventually(func() bool {
		return len(a.received(event.Message)) == 1 && len(b.received(event.Message)) == 1
	}, waitFor, tick)
}

func TestCoordinator_Suppresses_When_Persistence_Fails(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repository := mocks.NewMockIMessageRepository(ctrl)
	emptyHistory(repository)
	appended := make(chan struct{})
	repository.EXPECT().
		Append(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, message domain.Message) (domain.Message, error) {
			close(appended)
			return domain.Message{}, errors.ErrStorageUnavailable
		}).
		Times(1)
	f := newFixture(t, repository, SuppressOnPersistFailure)
	a, b := newRecorder(), newRecorder()
	f.connectAndJoin(t, "general", a, b)

	f.dispatch(t, chat.SendMessageCommand{Connection: a.ID(), Room: "general", Username: "alice", Body: "hi"})
	<-appended

	req.Never(func() bool {
		return len(a.received(event.Message)) > 0 || len(b.received(event.Message)) > 0
	}, 100*time.Millisecond, tick)
}

func TestCoordinator_Rejects_Invalid_Message(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repository := mocks.NewMockIMessageRepository(ctrl)
	emptyHistory(repository)
	// No Append expectation: storing would fail the test
	f := newFixture(t, repository, BroadcastOnPersistFailure)
	a, b := newRecorder(), newRecorder()
	f.connectAndJoin(t, "general", a, b)

	// When A sends a message without body, then types
	f.dispatch(t,
		chat.SendMessageCommand{Connection: a.ID(), Room: "general", Username: "alice"},
		chat.TypingCommand{Connection: a.ID(), Room: "general"},
	)

	// Then the loop went on and nothing was relayed
	req.Eventually(func() bool { return len(b.received(event.UserTyping)) == 1 }, waitFor, tick)
	req.Empty(a.received(event.Message))
	req.Empty(b.received(event.Message))
}

func TestCoordinator_History_Failure_Still_Publishes_Count(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repository := mocks.NewMockIMessageRepository(ctrl)
	repository.EXPECT().
		History(gomock.Any(), domain.RoomName("general"), repositories.DefaultHistoryLimit).
		Return(nil, errors.ErrStorageUnavailable).
		Times(1)
	f := newFixture(t, repository, BroadcastOnPersistFailure)
	a := newRecorder()

	f.connectAndJoin(t, "general", a)

	req.Equal([]int{1}, a.counts())
	req.Empty(a.received(event.ChatHistory))
}

func TestCoordinator_Disconnect_Publishes_Affected_Rooms_Only(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repository := mocks.NewMockIMessageRepository(ctrl)
	emptyHistory(repository)
	f := newFixture(t, repository, BroadcastOnPersistFailure)
	a, b, c := newRecorder(), newRecorder(), newRecorder()

	// Given A in x and y, B in x, C in z
	f.connectAndJoin(t, "x", a, b)
	f.dispatch(t, chat.JoinRoomCommand{Connection: a.ID(), Room: "y"})
	req.Eventually(func() bool { return len(a.counts()) == 3 }, waitFor, tick)
	f.connectAndJoin(t, "z", c)

	// When A disconnects
	f.dispatch(t, chat.DisconnectCommand{Connection: a.ID()})

	// Then B sees x shrink
	req.Eventually(func() bool { return len(b.counts()) == 2 }, waitFor, tick)
	req.Equal([]int{2, 1}, b.counts())
	// And C heard nothing new
	req.Equal([]int{1}, c.counts())
	req.Equal(0, f.registry.CountOf("y"))
	_, ok := f.registry.Connection(a.ID())
	req.False(ok)
}

func TestCoordinator_Disconnect_During_InFlight_Send(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repository := mocks.NewMockIMessageRepository(ctrl)
	emptyHistory(repository)
	started := make(chan struct{})
	release := make(chan struct{})
	repository.EXPECT().
		Append(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, message domain.Message) (domain.Message, error) {
			close(started)
			<-release
			return message, nil
		}).
		Times(1)
	f := newFixture(t, repository, BroadcastOnPersistFailure)
	a, b := newRecorder(), newRecorder()
	f.connectAndJoin(t, "general", a, b)

	// Given A's message is being stored
	f.dispatch(t, chat.SendMessageCommand{Connection: a.ID(), Room: "general", Username: "alice", Body: "bye"})
	<-started

	// When A disconnects meanwhile
	f.dispatch(t, chat.DisconnectCommand{Connection: a.ID()})
	req.Eventually(func() bool { return len(b.counts()) == 2 }, waitFor, tick)
	close(release)

	// Then B still gets the message and A doesn't
	req.Eventually(func() bool { return len(b.received(event.Message)) == 1 }, waitFor, tick)
	req.Empty(a.received(event.Message))
}

func TestCoordinator_Leave_Room(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repository := mocks.NewMockIMessageRepository(ctrl)
	emptyHistory(repository)
	f := newFixture(t, repository, BroadcastOnPersistFailure)
	a, b := newRecorder(), newRecorder()
	f.connectAndJoin(t, "general", a, b)

	// When A leaves a room it never joined, then general
	f.dispatch(t,
		chat.LeaveRoomCommand{Connection: a.ID(), Room: "elsewhere"},
		chat.LeaveRoomCommand{Connection: a.ID(), Room: "general"},
	)

	// Then B sees a single update
	req.Eventually(func() bool { return len(b.counts()) == 2 }, waitFor, tick)
	req.Equal([]int{2, 1}, b.counts())
	req.Equal(1, f.registry.CountOf("general"))
}

func TestCoordinator_Storage_Panic_Does_Not_Stop_The_Loop(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repository := mocks.NewMockIMessageRepository(ctrl)
	repository.EXPECT().
		History(gomock.Any(), domain.RoomName("boom"), gomock.Any()).
		DoAndReturn(func(ctx context.Context, room domain.RoomName, limit int) ([]domain.Message, error) {
			panic("corrupted index")
		}).
		Times(1)
	repository.EXPECT().
		History(gomock.Any(), domain.RoomName("general"), gomock.Any()).
		Return([]domain.Message{}, nil).
		Times(1)
	f := newFixture(t, repository, BroadcastOnPersistFailure)
	a, b := newRecorder(), newRecorder()

	f.dispatch(t, chat.ConnectCommand{Conn: a}, chat.JoinRoomCommand{Connection: a.ID(), Room: "boom"})
	f.connectAndJoin(t, "general", b)

	req.Len(b.received(event.ChatHistory), 1)
	req.Equal([]int{1}, b.counts())
}

func TestCoordinator_Handler_Panic_Does_Not_Stop_The_Loop(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	registry := NewRegistry()
	broadcaster := NewBroadcaster(log, registry)
	presence := mocks.NewMockIPresence(ctrl)
	repository := mocks.NewMockIMessageRepository(ctrl)

	// Given publishing presence blows up
	presence.EXPECT().
		PublishCount(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, room domain.RoomName) int {
			panic("presence exploded")
		}).
		Times(1)
	f := startFixture(t, NewCoordinator(log, registry, broadcaster, presence, repository,
		8, 8, repositories.DefaultHistoryLimit, BroadcastOnPersistFailure), registry)
	a, b := newRecorder(), newRecorder()
	registry.Register(a)
	registry.Register(b)
	registry.Join(a.ID(), "general")
	registry.Join(b.ID(), "general")

	// When A leaves and then types
	f.dispatch(t,
		chat.LeaveRoomCommand{Connection: a.ID(), Room: "general"},
		chat.TypingCommand{Connection: a.ID(), Room: "general"},
	)

	// Then the next command was still served
	req.Eventually(func() bool { return len(b.received(event.UserTyping)) == 1 }, waitFor, tick)
}

func TestCoordinator_Dispatch_After_Stop(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	registry := NewRegistry()
	broadcaster := NewBroadcaster(log, registry)
	coordinator := NewCoordinator(log, registry, broadcaster, NewPresence(log, registry, broadcaster),
		mocks.NewMockIMessageRepository(ctrl), 0, 0, repositories.DefaultHistoryLimit, BroadcastOnPersistFailure)

	// Given nobody consumes the queue
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := coordinator.Dispatch(ctx, chat.DisconnectCommand{Connection: "a"})
	req.ErrorIs(err, errors.ErrCoordinatorStopped)
}

func TestParsePersistFailurePolicy(t *testing.T) {
	req := require.New(t)

	policy, err := ParsePersistFailurePolicy("broadcast")
	req.NoError(err)
	req.Equal(BroadcastOnPersistFailure, policy)

	policy, err = ParsePersistFailurePolicy("suppress")
	req.NoError(err)
	req.Equal(SuppressOnPersistFailure, policy)

	_, err = ParsePersistFailurePolicy("retry")
	req.ErrorIs(err, errors.ErrInvalidFailurePolicy)
}

func TestCoordinator_Keeps_Sender_Order_Live_And_Stored(t *testing.T) {
	req := require.New(t)
	repository := newBadgerRepository(t)
	f := newFixture(t, repository, BroadcastOnPersistFailure)
	a, b := newRecorder(), newRecorder()
	f.connectAndJoin(t, "general", a, b)

	// When A sends a burst of messages
	const total = 200
	for i := 0; i < total; i++ {
		f.dispatch(t, chat.SendMessageCommand{
			Connection: a.ID(), Room: "general", Username: "alice", Body: fmt.Sprintf("%d", i),
		})
	}
	req.Eventually(func() bool { return len(b.received(event.Message)) == total }, 5*time.Second, tick)

	// Then B saw them in sending order
	for i, e := range b.received(event.Message) {
		req.Equal(fmt.Sprintf("%d", i), e.Payload.(event.MessagePayload).Message)
	}

	// And history replays the same order
	stored, err := repository.History(context.Background(), "general", total)
	req.NoError(err)
	req.Len(stored, total)
	for i, m := range stored {
		req.Equal(fmt.Sprintf("%d", i), m.Body)
	}
}

func TestCoordinator_Slow_Storage_Blocks_Dispatch(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repository := mocks.NewMockIMessageRepository(ctrl)
	emptyHistory(repository)
	release := make(chan struct{})
	repository.EXPECT().
		Append(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, message domain.Message) (domain.Message, error) {
			<-release
			return message, nil
		}).
		Times(4)
	f := newSizedFixture(t, repository, BroadcastOnPersistFailure, 1, 1)
	a := newRecorder()
	f.connectAndJoin(t, "general", a)

	send := func(i int) chat.SendMessageCommand {
		return chat.SendMessageCommand{Connection: a.ID(), Room: "general", Username: "alice", Body: fmt.Sprintf("%d", i)}
	}

	// Given the first message is stuck in storage, the second queued on the lane,
	// the third holding the loop and the fourth waiting in the command queue
	for i := 0; i < 4; i++ {
		f.dispatch(t, send(i))
	}

	// When A keeps sending
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := f.coordinator.Dispatch(ctx, send(4))

	// Then the sender is pushed back
	req.ErrorIs(err, errors.ErrCoordinatorStopped)
	req.Empty(a.received(event.Message))

	// And everything accepted goes through in order once storage recovers
	close(release)
	req.Eventually(func() bool { return len(a.received(event.Message)) == 4 }, waitFor, tick)
	for i, e := range a.received(event.Message) {
		req.Equal(fmt.Sprintf("%d", i), e.Payload.(event.MessagePayload).Message)
	}
}
