package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/meowlet/mercury-api/internal/core/contracts"
	"github.com/meowlet/mercury-api/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("worker")

// PresenceKeeper is the slice of the user service the sweeper drives.
type PresenceKeeper interface {
	Refresh(ctx context.Context, userIDs []string) error
	PruneStale(ctx context.Context, ttl time.Duration) ([]string, error)
}

// SweepWorker evicts dead handles and keeps the shared presence set honest.
type SweepWorker struct {
	log      *slog.Logger
	registry contracts.ConnectionRegistry
	users    PresenceKeeper
	interval time.Duration
	ttl      time.Duration
}

var _ contracts.AsyncWorker = (*SweepWorker)(nil)

func NewSweepWorker(
	log *slog.Logger,
	registry contracts.ConnectionRegistry,
	users PresenceKeeper,
	interval time.Duration,
	ttl time.Duration,
) *SweepWorker {
	return &SweepWorker{
		log:      log.With(slog.String("component", "sweeper")),
		registry: registry,
		users:    users,
		interval: interval,
		ttl:      ttl,
	}
}

func (w *SweepWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.log.InfoContext(ctx, "worker - run - sweeper started", slog.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.log.InfoContext(ctx, "worker - run - sweeper stopped")
			return nil
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one sweep: dead handles first, then refresh, then prune.
func (w *SweepWorker) Tick(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "SweepWorker.Tick")
	defer span.End()

	evicted := w.registry.SweepAll(ctx)
	online := w.registry.OnlineUsers()
	if err := w.users.Refresh(ctx, online); err != nil {
		span.RecordError(err)
		w.log.WarnContext(ctx, "worker - tick - presence refresh failed", logging.Err(err))
	}
	stale, err := w.users.PruneStale(ctx, w.ttl)
	if err != nil {
		span.RecordError(err)
		w.log.WarnContext(ctx, "worker - tick - prune stale failed", logging.Err(err))
	}
	span.SetAttributes(
		attribute.Int("evicted", evicted),
		attribute.Int("online", len(online)),
		attribute.Int("pruned", len(stale)),
	)
	if evicted > 0 || len(stale) > 0 {
		w.log.InfoContext(ctx, "worker - tick - sweep done",
			slog.Int("evicted", evicted), slog.Int("online", len(online)), slog.Int("pruned", len(stale)))
	}
}
