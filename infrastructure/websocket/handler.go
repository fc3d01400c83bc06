package websocket

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/services"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type Options struct {
	ConnectionBufferSize int
	MaxMessageSize       int64
	WriteTimeout         time.Duration
	PongWait             time.Duration
}

// Handler upgrades HTTP requests on /ws and runs one read and one write pump per client.
type Handler struct {
	log       *slog.Logger
	service   services.IChatService
	validator *auth.TokenValidator
	options   Options
	upgrader  websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	wg     sync.WaitGroup
	// clients tracks live connections so Shutdown can close them.
	clients map[domain.ConnectionID]*Client
}

// NewHandler builds the websocket endpoint. A nil validator accepts anonymous clients.
func NewHandler(log *slog.Logger, service services.IChatService, validator *auth.TokenValidator, options Options) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		log:       log,
		service:   service,
		validator: validator,
		options:   options,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[domain.ConnectionID]*Client),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.validator != nil {
		if _, err := h.validator.Validate(bearerToken(r)); err != nil {
			h.log.Warn("Handshake rejected", "remote_addr", r.RemoteAddr, "error", err)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(h.log, conn, h.options)
	if !h.track(client) {
		_ = conn.Close()
		return
	}
	go h.serve(client)
}

func (h *Handler) serve(client *Client) {
	defer h.wg.Done()
	defer h.untrack(client)

	if err := h.service.Connect(h.ctx, client); err != nil {
		h.log.Warn("Connection refused", "connection_id", client.ID(), "error", err)
		if err = h.service.Disconnect(h.ctx, client.ID()); err != nil {
			h.log.Debug("Disconnect not dispatched", "connection_id", client.ID(), "error", err)
		}
		_ = client.conn.Close()
		return
	}
	go client.writePump()
	client.readPump(h.ctx, h.service)
}

// Shutdown says goodbye to every client and waits for their read loops, bounded by ctx.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = nil
	h.mu.Unlock()

	for _, client := range clients {
		_ = client.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.options.WriteTimeout))
		_ = client.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	defer h.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// track returns false once shutdown started.
func (h *Handler) track(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients == nil {
		return false
	}
	h.clients[client.ID()] = client
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.ID())
}

// bearerToken reads the token from the Authorization header, browsers fall back to ?token=.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
