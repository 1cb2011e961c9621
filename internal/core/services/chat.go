package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meowlet/mercury-api/internal/core/contracts"
	"github.com/meowlet/mercury-api/internal/core/domain"
	"github.com/meowlet/mercury-api/pkg/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ChatService is the membership oracle and message store the router talks to.
type ChatService struct {
	convRepo   domain.ConversationRepository
	memberRepo domain.MemberRepository
	msgRepo    domain.MessageRepository
	tx         contracts.Transactor
	log        *slog.Logger
}

var (
	_ contracts.MembershipOracle = (*ChatService)(nil)
	_ contracts.MessageStore     = (*ChatService)(nil)
)

func NewChatService(
	log *slog.Logger,
	convRepo domain.ConversationRepository,
	memberRepo domain.MemberRepository,
	msgRepo domain.MessageRepository,
	tx contracts.Transactor,
) *ChatService {
	return &ChatService{
		convRepo:   convRepo,
		memberRepo: memberRepo,
		msgRepo:    msgRepo,
		tx:         tx,
		log:        log.With(slog.String("component", "chat")),
	}
}

// GetConversation returns the conversation with its active participants if userID is one of them.
func (s *ChatService) GetConversation(ctx context.Context, convID, userID string) (*domain.Conversation, error) {
	ctx, span := tracer.Start(ctx, "ChatService.GetConversation", trace.WithAttributes(
		attribute.String("conv_id", convID),
		attribute.String("user_id", userID),
	))
	defer span.End()

	id, err := uuid.Parse(convID)
	if err != nil {
		span.RecordError(err)
		return nil, domain.ErrInvalidConversationID
	}
	conv, err := s.convRepo.GetConversationByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !conv.IsActive {
		return nil, domain.ErrConversationNotFound
	}
	members, err := s.memberRepo.ListActiveMembers(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list members failed")
		s.log.ErrorContext(ctx, "chat - get conversation - list members failed", logging.Conversation(convID), logging.Err(err))
		return nil, err
	}
	conv.Participants = make([]string, 0, len(members))
	for _, m := range members {
		conv.Participants = append(conv.Participants, m.UserID)
	}
	if !conv.HasParticipant(userID) {
		return nil, domain.ErrNotParticipant
	}
	return conv, nil
}

func (s *ChatService) CreateMessage(ctx context.Context, in domain.SendMessageInput) (*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "ChatService.CreateMessage", trace.WithAttributes(
		attribute.String("conv_id", in.ConversationID),
		attribute.String("sender_id", in.SenderID),
	))
	defer span.End()

	if strings.TrimSpace(in.Content) == "" {
		return nil, domain.ErrEmptyContent
	}
	convID, err := uuid.Parse(in.ConversationID)
	if err != nil {
		return nil, domain.ErrInvalidConversationID
	}
	if err := s.requireMember(ctx, convID, in.SenderID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	var replyTo *uuid.UUID
	if in.ReplyTo != "" {
		parentID, err := uuid.Parse(in.ReplyTo)
		if err != nil {
			return nil, domain.ErrInvalidMessageID
		}
		parent, err := s.msgRepo.FindByID(ctx, parentID)
		if err != nil || parent.ConversationID != convID {
			if err != nil && !domain.IsNotFound(err) {
				span.RecordError(err)
				return nil, err
			}
			return nil, domain.ErrReplyNotFound
		}
		replyTo = &parent.ID
	}

	msg := domain.NewMessage(in, convID, replyTo)
	if err := s.tx.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.msgRepo.Create(txCtx, msg); err != nil {
			return err
		}
		return s.convRepo.UpdateLastActivity(txCtx, convID, msg.Preview(), msg.CreatedAt)
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction failed")
		s.log.ErrorContext(ctx, "chat - create message - transaction failed",
			logging.Conversation(in.ConversationID), logging.User(in.SenderID), logging.Err(err))
		return nil, fmt.Errorf("save message: %w", err)
	}
	s.log.InfoContext(ctx, "chat - create message - saved",
		logging.Conversation(in.ConversationID), logging.Message(msg.ID.String()), logging.User(in.SenderID))
	return msg, nil
}

// GetMessage returns a message the user is allowed to see.
func (s *ChatService) GetMessage(ctx context.Context, messageID, userID string) (*domain.Message, error) {
	id, err := uuid.Parse(messageID)
	if err != nil {
		return nil, domain.ErrInvalidMessageID
	}
	msg, err := s.msgRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, msg.ConversationID, userID); err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkRead records a read receipt; marking the same message twice is harmless.
func (s *ChatService) MarkRead(ctx context.Context, messageID, userID string) (*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "ChatService.MarkRead", trace.WithAttributes(
		attribute.String("message_id", messageID),
		attribute.String("user_id", userID),
	))
	defer span.End()

	msg, err := s.GetMessage(ctx, messageID, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	now := time.Now().UTC()
	if err := s.msgRepo.MarkRead(ctx, msg.ID, userID, now); err != nil {
		span.RecordError(err)
		s.log.ErrorContext(ctx, "chat - mark read - save failed", logging.Message(messageID), logging.User(userID), logging.Err(err))
		return nil, err
	}
	for _, rr := range msg.ReadBy {
		if rr.UserID == userID {
			return msg, nil
		}
	}
	msg.ReadBy = append(msg.ReadBy, domain.ReadReceipt{UserID: userID, ReadAt: now})
	return msg, nil
}

func (s *ChatService) EditMessage(ctx context.Context, messageID, userID, content string) (*domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, domain.ErrEmptyContent
	}
	msg, err := s.ownMessage(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := s.msgRepo.UpdateContent(ctx, msg.ID, content, now); err != nil {
		s.log.ErrorContext(ctx, "chat - edit message - save failed", logging.Message(messageID), logging.Err(err))
		return nil, err
	}
	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &now
	msg.UpdatedAt = now
	return msg, nil
}

func (s *ChatService) DeleteMessage(ctx context.Context, messageID, userID string) (*domain.Message, error) {
	msg, err := s.ownMessage(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := s.msgRepo.SoftDelete(ctx, msg.ID, now); err != nil {
		s.log.ErrorContext(ctx, "chat - delete message - save failed", logging.Message(messageID), logging.Err(err))
		return nil, err
	}
	msg.IsDeleted = true
	msg.DeletedAt = &now
	msg.UpdatedAt = now
	return msg, nil
}

// GetMessages returns one page of history, newest first, with the total count.
func (s *ChatService) GetMessages(ctx context.Context, convID, userID string, page domain.Page) ([]domain.Message, int, error) {
	ctx, span := tracer.Start(ctx, "ChatService.GetMessages", trace.WithAttributes(
		attribute.String("conv_id", convID),
	))
	defer span.End()

	id, err := uuid.Parse(convID)
	if err != nil {
		return nil, 0, domain.ErrInvalidConversationID
	}
	if err := s.requireMember(ctx, id, userID); err != nil {
		return nil, 0, err
	}
	msgs, total, err := s.msgRepo.ListByConversation(ctx, id, page.Normalize())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "db read failed")
		s.log.ErrorContext(ctx, "chat - get messages - list failed", logging.Conversation(convID), logging.Err(err))
		return nil, 0, err
	}
	span.SetAttributes(attribute.Int("message_count", len(msgs)))
	return msgs, total, nil
}

func (s *ChatService) ownMessage(ctx context.Context, messageID, userID string) (*domain.Message, error) {
	msg, err := s.GetMessage(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, domain.ErrNotMessageSender
	}
	if msg.IsDeleted {
		return nil, domain.ErrMessageDeleted
	}
	return msg, nil
}

func (s *ChatService) requireMember(ctx context.Context, convID uuid.UUID, userID string) error {
	ok, err := s.memberRepo.IsActiveMember(ctx, convID, userID)
	if err != nil {
		s.log.ErrorContext(ctx, "chat - require member - lookup failed", logging.Conversation(convID.String()), logging.Err(err))
		return err
	}
	if !ok {
		return domain.ErrNotParticipant
	}
	return nil
}
