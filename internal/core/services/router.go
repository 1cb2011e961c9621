package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/meowlet/mercury-api/internal/core/contracts"
	"github.com/meowlet/mercury-api/internal/core/domain"
	"github.com/meowlet/mercury-api/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("chat-services")

// Router dispatches inbound events for one session. Every business failure is
// answered with an error event to the sending handle; the connection stays open.
type Router struct {
	oracle      contracts.MembershipOracle
	store       contracts.MessageStore
	presence    contracts.PresenceTracker
	broadcaster contracts.Broadcaster
	multi       bool
	log         *slog.Logger
}

func NewRouter(
	log *slog.Logger,
	oracle contracts.MembershipOracle,
	store contracts.MessageStore,
	presence contracts.PresenceTracker,
	broadcaster contracts.Broadcaster,
	multiConversation bool,
) *Router {
	return &Router{
		oracle:      oracle,
		store:       store,
		presence:    presence,
		broadcaster: broadcaster,
		multi:       multiConversation,
		log:         log.With(slog.String("component", "router")),
	}
}

// Route handles one raw frame. The returned error has already been reported to the client.
func (r *Router) Route(ctx context.Context, sess *domain.Session, h contracts.Handle, raw []byte) error {
	ctx, span := tracer.Start(ctx, "Router.Route", trace.WithAttributes(
		attribute.String("conn_id", sess.ConnID.String()),
		attribute.String("user_id", sess.UserID),
		attribute.Int("payload_size", len(raw)),
	))
	defer span.End()

	if !sess.Authenticated {
		return r.fail(ctx, span, sess, h, "Not authenticated", domain.ErrUnauthenticated)
	}
	ev, err := domain.ParseInbound(raw)
	if err != nil {
		return r.fail(ctx, span, sess, h, "Invalid message", err)
	}
	span.SetAttributes(attribute.String("event_type", string(ev.Kind())))

	switch ev := ev.(type) {
	case domain.JoinConversation:
		if err := r.join(ctx, sess, h, ev.ConversationID); err != nil {
			return r.fail(ctx, span, sess, h, "Failed to join conversation", err)
		}
	case domain.LeaveConversation:
		r.leave(ctx, sess, h, canonicalID(ev.ConversationID))
	case domain.SendMessage:
		if err := r.sendMessage(ctx, sess, ev); err != nil {
			return r.fail(ctx, span, sess, h, "Failed to send message", err)
		}
	case domain.Typing:
		if err := r.typing(ctx, sess, ev); err != nil {
			return r.fail(ctx, span, sess, h, "Failed to send typing indicator", err)
		}
	case domain.MarkRead:
		if err := r.markRead(ctx, sess, ev); err != nil {
			return r.fail(ctx, span, sess, h, "Failed to mark message as read", err)
		}
	}
	return nil
}

func (r *Router) join(ctx context.Context, sess *domain.Session, h contracts.Handle, rawID string) error {
	conv, err := r.oracle.GetConversation(ctx, rawID, sess.UserID)
	if err != nil {
		return err
	}
	convID := conv.ID.String()

	if !r.multi {
		for _, prev := range sess.Conversations() {
			if prev != convID {
				r.leave(ctx, sess, h, prev)
			}
		}
	}
	if sess.Join(convID) {
		if _, added := r.presence.Join(convID, sess.UserID); added {
			r.broadcaster.Broadcast(ctx, convID, domain.NewUserJoinedEvent(convID, sess.UserID), sess.UserID)
		}
	}
	r.log.InfoContext(ctx, "router - join - joined conversation",
		logging.Conversation(convID), logging.User(sess.UserID), logging.Connection(sess.ConnID.String()))
	r.reply(ctx, sess, h, domain.NewJoinedConversationEvent(convID, sess.UserID, r.presence.MembersOf(convID)))
	return nil
}

// leave is idempotent: the client is answered even when it was not joined.
func (r *Router) leave(ctx context.Context, sess *domain.Session, h contracts.Handle, convID string) {
	if sess.Leave(convID) {
		r.Release(ctx, convID, sess.UserID)
	}
	r.reply(ctx, sess, h, domain.NewLeftConversationEvent(convID, sess.UserID))
}

// Release drops one presence of userID in convID and tells the room once the user is gone from it.
func (r *Router) Release(ctx context.Context, convID, userID string) {
	if !r.presence.Leave(convID, userID) {
		return
	}
	r.broadcaster.Broadcast(ctx, convID, domain.NewUserLeftEvent(convID, userID), userID)
	r.log.InfoContext(ctx, "router - release - user left conversation", logging.Conversation(convID), logging.User(userID))
}

func (r *Router) sendMessage(ctx context.Context, sess *domain.Session, ev domain.SendMessage) error {
	convID := canonicalID(ev.ConversationID)
	if !sess.IsJoined(convID) {
		return domain.ErrNotJoined
	}
	msg, err := r.store.CreateMessage(ctx, domain.SendMessageInput{
		ConversationID: convID,
		SenderID:       sess.UserID,
		Content:        ev.Content,
		Type:           ev.Type,
		ReplyTo:        ev.ReplyTo,
	})
	if err != nil {
		return err
	}
	// the sender's other tabs need the persisted copy too
	n := r.broadcaster.Broadcast(ctx, convID, domain.NewMessageEvent(convID, *msg), "")
	r.log.DebugContext(ctx, "router - send message - broadcast",
		logging.Conversation(convID), logging.Message(msg.ID.String()), slog.Int("delivered", n))
	return nil
}

func (r *Router) typing(ctx context.Context, sess *domain.Session, ev domain.Typing) error {
	convID := canonicalID(ev.ConversationID)
	// a joined session already passed the membership check
	if !sess.IsJoined(convID) {
		conv, err := r.oracle.GetConversation(ctx, convID, sess.UserID)
		if err != nil {
			return err
		}
		convID = conv.ID.String()
	}
	r.broadcaster.Broadcast(ctx, convID, domain.NewTypingEvent(convID, sess.UserID, ev.IsTyping), sess.UserID)
	return nil
}

func (r *Router) markRead(ctx context.Context, sess *domain.Session, ev domain.MarkRead) error {
	msg, err := r.store.MarkRead(ctx, ev.MessageID, sess.UserID)
	if err != nil {
		return err
	}
	convID := msg.ConversationID.String()
	r.broadcaster.Broadcast(ctx, convID, domain.NewReadEvent(convID, msg.ID.String(), sess.UserID), sess.UserID)
	return nil
}

func (r *Router) reply(ctx context.Context, sess *domain.Session, h contracts.Handle, ev domain.OutboundEvent) {
	if err := r.broadcaster.SendTo(ctx, sess.UserID, h, ev); err != nil {
		r.log.DebugContext(ctx, "router - reply - handle unavailable",
			logging.Connection(sess.ConnID.String()), logging.Event(string(ev.Kind())), logging.Err(err))
	}
}

func (r *Router) fail(ctx context.Context, span trace.Span, sess *domain.Session, h contracts.Handle, prefix string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, prefix)

	attrs := []any{logging.User(sess.UserID), logging.Connection(sess.ConnID.String()), logging.Err(err)}
	switch {
	case domain.IsMalformed(err), domain.IsNotFound(err), domain.IsForbidden(err), errors.Is(err, domain.ErrNotJoined):
		r.log.WarnContext(ctx, "router - route - rejected event", attrs...)
	default:
		r.log.ErrorContext(ctx, "router - route - event failed", attrs...)
	}
	r.reply(ctx, sess, h, domain.NewErrorEvent(prefix+": "+err.Error()))
	return err
}

// canonicalID normalizes uuid spelling so session and presence keys agree with stored ids.
func canonicalID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return id
}
