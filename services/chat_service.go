package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/chat"
	"context"
)

//go:generate go run go.uber.org/mock/mockgen -source=chat_service.go -destination=../mocks/mock_chat_service.go -package=mocks

// ICoordinator is the single entry point into the relay loop.
type ICoordinator interface {
	Dispatch(ctx context.Context, cmd chat.Command) error
}

// IChatService is what a transport needs to drive a connection through its lifecycle.
type IChatService interface {
	Connect(ctx context.Context, conn contract.Connection) error
	JoinRoom(ctx context.Context, connectionID domain.ConnectionID, room domain.RoomName) error
	LeaveRoom(ctx context.Context, connectionID domain.ConnectionID, room domain.RoomName) error
	SendMessage(ctx context.Context, cmd chat.SendMessageCommand) error
	Typing(ctx context.Context, cmd chat.TypingCommand) error
	Disconnect(ctx context.Context, connectionID domain.ConnectionID) error
}

type ChatService struct {
	coordinator ICoordinator
}

func NewChatService(coordinator ICoordinator) *ChatService {
	return &ChatService{coordinator: coordinator}
}

func (s *ChatService) Connect(ctx context.Context, conn contract.Connection) error {
	return s.coordinator.Dispatch(ctx, chat.ConnectCommand{Conn: conn})
}

func (s *ChatService) JoinRoom(ctx context.Context, connectionID domain.ConnectionID, room domain.RoomName) error {
	return s.coordinator.Dispatch(ctx, chat.JoinRoomCommand{Connection: connectionID, Room: room})
}

func (s *ChatService) LeaveRoom(ctx context.Context, connectionID domain.ConnectionID, room domain.RoomName) error {
	return s.coordinator.Dispatch(ctx, chat.LeaveRoomCommand{Connection: connectionID, Room: room})
}

func (s *ChatService) SendMessage(ctx context.Context, cmd chat.SendMessageCommand) error {
	return s.coordinator.Dispatch(ctx, cmd)
}

func (s *ChatService) Typing(ctx context.Context, cmd chat.TypingCommand) error {
	return s.coordinator.Dispatch(ctx, cmd)
}

// Disconnect must be called once per connection, even after a failed Connect,
// otherwise the connection stays registered in its rooms.
func (s *ChatService) Disconnect(ctx context.Context, connectionID domain.ConnectionID) error {
	return s.coordinator.Dispatch(ctx, chat.DisconnectCommand{Connection: connectionID})
}
