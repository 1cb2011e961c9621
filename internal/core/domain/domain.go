package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the persisted identity. Presence fields are written by the presence sink.
type User struct {
	ID        string    `json:"id"`
	IsOnline  bool      `json:"isOnline"`
	LastSeen  time.Time `json:"lastSeen"`
	CreatedAt time.Time `json:"createdAt"`
}

type ConversationType string

const (
	ConversationDirect  ConversationType = "direct"
	ConversationGroup   ConversationType = "group"
	ConversationChannel ConversationType = "channel"
)

// Conversation is the durable chat room. Participants lists the active members.
type Conversation struct {
	ID           uuid.UUID        `json:"id"`
	Type         ConversationType `json:"type"`
	Title        string           `json:"title,omitempty"`
	Participants []string         `json:"participants"`
	IsActive     bool             `json:"isActive"`
	LastMessage  string           `json:"lastMessage,omitempty"`
	LastActivity time.Time        `json:"lastActivity"`
	CreatedBy    string           `json:"createdBy"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// HasParticipant reports whether userID is an active member.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

type Member struct {
	ConversationID uuid.UUID
	UserID         string
	Role           MemberRole
	JoinedAt       time.Time
	LeftAt         *time.Time // Nullable
	IsActive       bool
}

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageSystem:
		return true
	}
	return false
}

type ReadReceipt struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Message is the persisted chat entry. It is broadcast as-is in "message" events.
type Message struct {
	ID             uuid.UUID     `json:"id"`
	ConversationID uuid.UUID     `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Content        string        `json:"content"`
	Type           MessageType   `json:"type"`
	ReplyTo        *uuid.UUID    `json:"replyTo,omitempty"`
	IsEdited       bool          `json:"isEdited"`
	EditedAt       *time.Time    `json:"editedAt,omitempty"`
	IsDeleted      bool          `json:"isDeleted"`
	DeletedAt      *time.Time    `json:"deletedAt,omitempty"`
	ReadBy         []ReadReceipt `json:"readBy"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// NewMessage builds an unsaved message with a fresh id.
func NewMessage(in SendMessageInput, conversationID uuid.UUID, replyTo *uuid.UUID) *Message {
	now := time.Now().UTC()
	typ := in.Type
	if typ == "" {
		typ = MessageText
	}
	return &Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Type:           typ,
		ReplyTo:        replyTo,
		ReadBy:         []ReadReceipt{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Preview is the conversation list text for this message.
func (m *Message) Preview() string {
	switch m.Type {
	case MessageImage:
		return "[image]"
	case MessageFile:
		return "[file]"
	}
	const max = 100
	if r := []rune(m.Content); len(r) > max {
		return string(r[:max]) + "..."
	}
	return m.Content
}

// SendMessageInput is what the router hands to the message store.
type SendMessageInput struct {
	ConversationID string
	SenderID       string
	Content        string
	Type           MessageType
	ReplyTo        string
}

// Page is a 1-based page request.
type Page struct {
	Page  int
	Limit int
}

func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 || p.Limit > 100 {
		p.Limit = 50
	}
	return p
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}
