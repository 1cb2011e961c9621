package contracts

import (
	"context"

	"github.com/meowlet/mercury-api/internal/core/domain"
)

// MembershipOracle answers whether a user may take part in a conversation.
type MembershipOracle interface {
	GetConversation(ctx context.Context, convID, userID string) (*domain.Conversation, error)
}

// MessageStore persists messages and read receipts.
type MessageStore interface {
	CreateMessage(ctx context.Context, in domain.SendMessageInput) (*domain.Message, error)
	// MarkRead records the receipt and returns the message it was recorded on.
	MarkRead(ctx context.Context, messageID, userID string) (*domain.Message, error)
	GetMessage(ctx context.Context, messageID, userID string) (*domain.Message, error)
}

// Transactor runs fn inside a database transaction carried by the context.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
