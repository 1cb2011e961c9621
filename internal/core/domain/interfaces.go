package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserRepository holds the persistent identity and its presence columns.
type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	SetOnline(ctx context.Context, id string, online bool, at time.Time) error
}

// ConversationRepository handles conversation lookup and activity bookkeeping.
type ConversationRepository interface {
	GetConversationByID(ctx context.Context, convID uuid.UUID) (*Conversation, error)
	UpdateLastActivity(ctx context.Context, convID uuid.UUID, lastMessage string, at time.Time) error
}

// MemberRepository answers durable membership questions.
type MemberRepository interface {
	IsActiveMember(ctx context.Context, convID uuid.UUID, userID string) (bool, error)
	ListActiveMembers(ctx context.Context, convID uuid.UUID) ([]Member, error)
}

// MessageRepository handles message persistence and read receipts.
type MessageRepository interface {
	Create(ctx context.Context, msg *Message) error
	FindByID(ctx context.Context, id uuid.UUID) (*Message, error)
	ListByConversation(ctx context.Context, convID uuid.UUID, page Page) ([]Message, int, error)
	UpdateContent(ctx context.Context, id uuid.UUID, content string, at time.Time) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkRead records a receipt; repeating it for the same user is a no-op.
	MarkRead(ctx context.Context, id uuid.UUID, userID string, at time.Time) error
}
