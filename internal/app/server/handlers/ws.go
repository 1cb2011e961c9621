package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/meowlet/mercury-api/internal/app/server/ws"
	"github.com/meowlet/mercury-api/internal/core/services"
	"github.com/meowlet/mercury-api/pkg/logging"
	"github.com/meowlet/mercury-api/pkg/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type WSHandler struct {
	manager  services.IManagerService
	opts     ws.Options
	upgrader websocket.Upgrader
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	closed bool
	live   sync.WaitGroup // upgraded connections not yet disconnected
}

func NewWSHandler(manager services.IManagerService, opts ws.Options) *WSHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &WSHandler{
		manager: manager,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // tighten later
			},
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Close tells every live client to send a going-away frame and hang up.
// New upgrades are refused from then on.
func (h *WSHandler) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()
}

// Wait blocks until every connection has run its disconnect, or ctx ends.
func (h *WSHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.live.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *WSHandler) admit() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.live.Add(1)
	return true
}

func (h *WSHandler) Handler(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	span := trace.SpanFromContext(r.Context())
	userID := middleware.UserID(r.Context())
	if userID == "" {
		log.ErrorContext(r.Context(), "ws handler - unauthorised missing user_id")
		http.Error(w, "Unauthorized: User ID missing", http.StatusUnauthorized)
		return
	}
	if !h.admit() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.live.Done()
	span.SetAttributes(attribute.String("user.id", userID))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(r.Context(), "ws handler - upgrade - ws upgrade failed", logging.Err(err))
		return
	}
	// the session outlives this request's deadline but keeps its logger and trace
	ctx := context.WithoutCancel(r.Context())
	client := ws.NewClient(h.ctx, ws.NewWebSocket(conn, h.opts), log)
	log = log.With(logging.User(userID), logging.Connection(client.ID().String()))
	ctx = logging.WithContext(ctx, log)

	sess, err := h.manager.HandleConnect(ctx, client, userID)
	if err != nil {
		log.ErrorContext(ctx, "ws handler - handle connect - rejected", logging.Err(err))
		client.Close()
		return
	}
	defer h.manager.HandleDisconnect(ctx, sess, client)
	defer client.Close()
	log.InfoContext(ctx, "ws handler - ws connection established")

	// frames of one connection are handled in order, one at a time
	client.ReadLoop(func(data []byte) {
		if err := h.manager.HandleMessage(ctx, sess, client, data); err != nil {
			log.DebugContext(ctx, "ws handler - handle message - reported to client", logging.Err(err))
		}
	})
	log.InfoContext(ctx, "ws handler - ws connection closed", slog.Duration("duration", time.Since(sess.OpenedAt)))
}
