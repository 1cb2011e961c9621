package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/meowlet/mercury-api/internal/core/contracts"
	"github.com/meowlet/mercury-api/internal/core/domain"
	"github.com/meowlet/mercury-api/pkg/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type IManagerService interface {
	// HandleConnect registers an authenticated handle and opens its session.
	HandleConnect(ctx context.Context, h contracts.Handle, userID string) (*domain.Session, error)
	// HandleMessage routes one inbound frame; frames of one session must be passed in arrival order.
	HandleMessage(ctx context.Context, sess *domain.Session, h contracts.Handle, raw []byte) error
	// HandleDisconnect releases the session's presence and drops the handle.
	HandleDisconnect(ctx context.Context, sess *domain.Session, h contracts.Handle)
}

// ManagerService owns the connection lifecycle: Open → Joined → Closed.
type ManagerService struct {
	registry    contracts.ConnectionRegistry
	presence    contracts.PresenceTracker
	broadcaster contracts.Broadcaster
	router      *Router

	mu       sync.Mutex
	sessions map[string]map[uuid.UUID]*domain.Session // user_id → conn_id → session

	log *slog.Logger
}

var _ IManagerService = (*ManagerService)(nil)

func NewManagerService(
	log *slog.Logger,
	registry contracts.ConnectionRegistry,
	presence contracts.PresenceTracker,
	broadcaster contracts.Broadcaster,
	router *Router,
) *ManagerService {
	m := &ManagerService{
		registry:    registry,
		presence:    presence,
		broadcaster: broadcaster,
		router:      router,
		sessions:    make(map[string]map[uuid.UUID]*domain.Session),
		log:         log.With(slog.String("component", "manager")),
	}
	registry.OnUserOffline(m.onUserOffline)
	return m
}

func (m *ManagerService) HandleConnect(ctx context.Context, h contracts.Handle, userID string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "ManagerService.HandleConnect", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("conn_id", h.ID().String()),
	))
	defer span.End()
	if userID == "" {
		span.RecordError(domain.ErrUnauthenticated)
		span.SetStatus(codes.Error, "unauthenticated")
		return nil, domain.ErrUnauthenticated
	}

	sess := domain.NewSession(h.ID(), userID)
	m.track(sess)
	first := m.registry.AddConnection(ctx, userID, h)
	span.SetAttributes(attribute.Bool("first_connection", first))
	m.log.InfoContext(ctx, "manager - handle connect - session opened",
		logging.User(userID), logging.Connection(sess.ConnID.String()),
		slog.Int("connections", m.registry.ConnectionCount(userID)))
	return sess, nil
}

func (m *ManagerService) HandleMessage(ctx context.Context, sess *domain.Session, h contracts.Handle, raw []byte) error {
	return m.router.Route(ctx, sess, h, raw)
}

func (m *ManagerService) HandleDisconnect(ctx context.Context, sess *domain.Session, h contracts.Handle) {
	ctx, span := tracer.Start(ctx, "ManagerService.HandleDisconnect", trace.WithAttributes(
		attribute.String("user_id", sess.UserID),
		attribute.String("conn_id", sess.ConnID.String()),
	))
	defer span.End()

	for _, convID := range sess.Reset() {
		m.router.Release(ctx, convID, sess.UserID)
	}
	m.untrack(sess)
	last := m.registry.RemoveConnection(ctx, sess.UserID, h)
	span.SetAttributes(attribute.Bool("last_connection", last))
	m.log.InfoContext(ctx, "manager - handle disconnect - session closed",
		logging.User(sess.UserID), logging.Connection(sess.ConnID.String()), slog.Bool("offline", last))
}

// onUserOffline runs once the registry holds no handle for userID, including
// when the last handles were evicted by a broadcast or a sweep.
func (m *ManagerService) onUserOffline(ctx context.Context, userID string) {
	m.mu.Lock()
	for _, sess := range m.sessions[userID] {
		sess.Reset()
	}
	m.mu.Unlock()

	convs := m.presence.LeaveAll(userID)
	for _, convID := range convs {
		m.broadcaster.Broadcast(ctx, convID, domain.NewUserLeftEvent(convID, userID), userID)
	}
	if len(convs) > 0 {
		m.log.InfoContext(ctx, "manager - user offline - left conversations",
			logging.User(userID), slog.Int("conversations", len(convs)))
	}
}

func (m *ManagerService) track(sess *domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sessions[sess.UserID]
	if !ok {
		set = make(map[uuid.UUID]*domain.Session)
		m.sessions[sess.UserID] = set
	}
	set[sess.ConnID] = sess
}

func (m *ManagerService) untrack(sess *domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.sessions[sess.UserID]; ok {
		delete(set, sess.ConnID)
		if len(set) == 0 {
			delete(m.sessions, sess.UserID)
		}
	}
}
