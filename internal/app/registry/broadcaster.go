package registry

import (
	"context"
	"errors"
	"log/slog"

	"github.com/meowlet/mercury-api/internal/core/contracts"
	"github.com/meowlet/mercury-api/internal/core/domain"
	"github.com/meowlet/mercury-api/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrHandleUnavailable = errors.New("handle is not open")

var tracer = otel.Tracer("registry")

// Broadcaster resolves a conversation's audience and pushes encoded events.
// Handles that fail are evicted once the pass is over; nothing is retried.
type Broadcaster struct {
	registry contracts.ConnectionRegistry
	presence contracts.PresenceTracker
	log      *slog.Logger
}

var _ contracts.Broadcaster = (*Broadcaster)(nil)

func NewBroadcaster(log *slog.Logger, registry contracts.ConnectionRegistry, presence contracts.PresenceTracker) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		presence: presence,
		log:      log.With(slog.String("component", "broadcaster")),
	}
}

type deadHandle struct {
	userID string
	h      contracts.Handle
}

func (b *Broadcaster) Broadcast(ctx context.Context, convID string, ev domain.OutboundEvent, excludeUserID string) int {
	ctx, span := tracer.Start(ctx, "Broadcaster.Broadcast", trace.WithAttributes(
		attribute.String("conv_id", convID),
		attribute.String("event_type", string(ev.Kind())),
	))
	defer span.End()

	payload, err := domain.Encode(ev)
	if err != nil {
		span.RecordError(err)
		b.log.ErrorContext(ctx, "broadcaster - broadcast - encode failed", logging.Conversation(convID), logging.Err(err))
		return 0
	}

	delivered := 0
	var dead []deadHandle
	for _, userID := range b.presence.MembersOf(convID) {
		if userID == excludeUserID {
			continue
		}
		for _, h := range b.registry.Connections(userID) {
			if b.deliver(ctx, h, payload) {
				delivered++
				continue
			}
			dead = append(dead, deadHandle{userID: userID, h: h})
		}
	}
	for _, d := range dead {
		b.registry.RemoveConnection(ctx, d.userID, d.h)
	}

	span.SetAttributes(attribute.Int("delivered", delivered), attribute.Int("evicted", len(dead)))
	if len(dead) > 0 {
		b.log.InfoContext(ctx, "broadcaster - broadcast - evicted dead handles",
			logging.Conversation(convID), slog.Int("evicted", len(dead)))
	}
	return delivered
}

func (b *Broadcaster) SendTo(ctx context.Context, userID string, h contracts.Handle, ev domain.OutboundEvent) error {
	payload, err := domain.Encode(ev)
	if err != nil {
		return err
	}
	if b.deliver(ctx, h, payload) {
		return nil
	}
	b.registry.RemoveConnection(ctx, userID, h)
	return ErrHandleUnavailable
}

func (b *Broadcaster) deliver(ctx context.Context, h contracts.Handle, payload []byte) bool {
	if h.State() != contracts.StateOpen {
		return false
	}
	if err := h.Send(ctx, payload); err != nil {
		b.log.DebugContext(ctx, "broadcaster - deliver - send failed", logging.Connection(h.ID().String()), logging.Err(err))
		return false
	}
	return true
}
