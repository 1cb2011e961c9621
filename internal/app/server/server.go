package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/meowlet/mercury-api/internal/app/server/handlers"
	"github.com/meowlet/mercury-api/pkg/logging"
	"github.com/meowlet/mercury-api/pkg/middleware"
)

type Server struct {
	mux             *http.ServeMux
	log             *slog.Logger
	app             string
	addr            string
	shutdownTimeout time.Duration
	tokens          middleware.TokenValidator
	wsHandler       *handlers.WSHandler
	chatHandler     *handlers.ChatHandler
	healthHandler   *handlers.HealthHandler
}

func NewServer(
	log *slog.Logger,
	app string,
	addr string,
	shutdownTimeout time.Duration,
	tokens middleware.TokenValidator,
	wsHandler *handlers.WSHandler,
	chatHandler *handlers.ChatHandler,
	healthHandler *handlers.HealthHandler,
) *Server {
	s := &Server{
		mux:             http.NewServeMux(),
		log:             log,
		app:             app,
		addr:            addr,
		shutdownTimeout: shutdownTimeout,
		tokens:          tokens,
		wsHandler:       wsHandler,
		chatHandler:     chatHandler,
		healthHandler:   healthHandler,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	auth := middleware.AuthMiddleware(s.tokens)

	// public
	s.mux.HandleFunc("GET /health", s.healthHandler.Health)
	s.mux.HandleFunc("GET /stats", s.healthHandler.Stats)

	// protected, the token subject becomes the user id
	s.mux.Handle("GET /chat/ws", auth(http.HandlerFunc(s.wsHandler.Handler)))
	s.mux.Handle("GET /conversations/{id}/messages", auth(http.HandlerFunc(s.chatHandler.History)))
	s.mux.Handle("PATCH /messages/{id}", auth(http.HandlerFunc(s.chatHandler.Edit)))
	s.mux.Handle("DELETE /messages/{id}", auth(http.HandlerFunc(s.chatHandler.Delete)))
	s.mux.Handle("GET /users/{id}/presence", auth(http.HandlerFunc(s.chatHandler.Presence)))
}

// Handler is the full middleware chain around the router.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = middleware.RequestLogger(s.log)(h)
	h = middleware.TracerMiddleware(s.app)(h)
	h = middleware.RequestID()(h)
	return h
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server - start - listening", slog.String("addr", s.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("server - shutdown - draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	// hijacked websocket conns are not tracked by Shutdown
	s.wsHandler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	// presence must be written before the stores behind it are closed
	if err := s.wsHandler.Wait(shutdownCtx); err != nil {
		s.log.Warn("server - shutdown - websocket sessions still closing", logging.Err(err))
		return err
	}
	return <-errCh
}
