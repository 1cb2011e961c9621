package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/meowlet/mercury-api/pkg/logging"
)

// Pinger is anything with a liveness check, e.g. *sql.DB or a redis ping wrapper.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

type ConnectionStats interface {
	Stats() (users, connections int)
}

type ConversationStats interface {
	Stats() (conversations int)
}

type HealthHandler struct {
	checks  map[string]Pinger
	conns   ConnectionStats
	rooms   ConversationStats
	timeout time.Duration
	started time.Time
}

func NewHealthHandler(checks map[string]Pinger, conns ConnectionStats, rooms ConversationStats) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		conns:   conns,
		rooms:   rooms,
		timeout: 2 * time.Second,
		started: time.Now(),
	}
}

// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.PingContext(ctx); err != nil {
			logging.FromContext(ctx).ErrorContext(ctx, "health handler - ping failed", "dependency", name, logging.Err(err))
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "up"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": state, "dependencies": deps})
}

// GET /stats
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	users, conns := h.conns.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"users":         users,
		"connections":   conns,
		"conversations": h.rooms.Stats(),
		"uptime":        time.Since(h.started).Round(time.Second).String(),
	})
}
