package websocket

import (
	"chat-relay/domain"
	"chat-relay/domain/chat"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/services"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one websocket connection seen by the relay as a contract.Connection.
// Send only enqueues, the write pump owns every write to the socket.
type Client struct {
	id      domain.ConnectionID
	conn    *websocket.Conn
	log     *slog.Logger
	options Options

	mu     sync.Mutex
	send   chan event.Event
	closed bool
}

func newClient(log *slog.Logger, conn *websocket.Conn, options Options) *Client {
	id := domain.NewConnectionID()
	conn.SetReadLimit(options.MaxMessageSize)
	return &Client{
		id:      id,
		conn:    conn,
		log:     log.With("connection_id", id),
		options: options,
		send:    make(chan event.Event, options.ConnectionBufferSize),
	}
}

func (c *Client) ID() domain.ConnectionID { return c.id }

// Send never blocks: a closed client or a full buffer is reported as ErrDelivery.
func (c *Client) Send(_ context.Context, e event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: connection closed", errors.ErrDelivery)
	}
	select {
	case c.send <- e:
		return nil
	default:
		return fmt.Errorf("%w: outbound buffer full", errors.ErrDelivery)
	}
}

// close stops accepting events, the write pump flushes what is queued then says goodbye.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump decodes frames into commands until the socket fails, then disconnects the client.
func (c *Client) readPump(ctx context.Context, service services.IChatService) {
	defer func() {
		if err := service.Disconnect(ctx, c.id); err != nil {
			c.log.Warn("Disconnect not dispatched", "error", err)
		}
		c.close()
	}()

	c.setupReadDeadline()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		cmd, err := decode(c.id, raw)
		if err != nil {
			c.log.Warn("Frame rejected", "error", err)
			continue
		}
		if err = c.dispatch(ctx, service, cmd); err != nil {
			c.log.Warn("Command not dispatched", "error", err)
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case e, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(e); err != nil {
				c.log.Debug("Write failed", "event", e.Name, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("Ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) setupReadDeadline() {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.options.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.options.PongWait))
	})
}

// pingPeriod must stay below PongWait so that a live peer always answers in time.
func (c *Client) pingPeriod() time.Duration {
	return c.options.PongWait * 9 / 10
}

func (c *Client) logReadError(err error) {
	switch {
	case stderrors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("Frame exceeded maximum size", "limit", c.options.MaxMessageSize)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.log.Info("Connection lost", "error", err)
	default:
		c.log.Debug("Connection closed by peer", "error", err)
	}
}

func (c *Client) dispatch(ctx context.Context, service services.IChatService, cmd chat.Command) error {
	switch cmd := cmd.(type) {
	case chat.JoinRoomCommand:
		return service.JoinRoom(ctx, cmd.Connection, cmd.Room)
	case chat.LeaveRoomCommand:
		return service.LeaveRoom(ctx, cmd.Connection, cmd.Room)
	case chat.SendMessageCommand:
		return service.SendMessage(ctx, cmd)
	case chat.TypingCommand:
		return service.Typing(ctx, cmd)
	default:
		return fmt.Errorf("%w: %T", errors.ErrUnknownEvent, cmd)
	}
}
