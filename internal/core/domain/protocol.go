package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Inbound (client → server)

type InboundType string

const (
	TypeJoinConversation  InboundType = "join_conversation"
	TypeLeaveConversation InboundType = "leave_conversation"
	TypeSendMessage       InboundType = "send_message"
	TypeTyping            InboundType = "typing"
	TypeMarkRead          InboundType = "mark_read"
)

// Envelope is the raw inbound frame before its data is decoded.
type Envelope struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// InboundEvent is one of JoinConversation, LeaveConversation, SendMessage, Typing, MarkRead.
type InboundEvent interface {
	Kind() InboundType
	inbound()
}

type JoinConversation struct {
	ConversationID string
}

type LeaveConversation struct {
	ConversationID string
}

type SendMessage struct {
	ConversationID string
	Content        string
	Type           MessageType
	ReplyTo        string
}

type Typing struct {
	ConversationID string
	IsTyping       bool
}

type MarkRead struct {
	MessageID string
}

func (JoinConversation) Kind() InboundType  { return TypeJoinConversation }
func (LeaveConversation) Kind() InboundType { return TypeLeaveConversation }
func (SendMessage) Kind() InboundType       { return TypeSendMessage }
func (Typing) Kind() InboundType            { return TypeTyping }
func (MarkRead) Kind() InboundType          { return TypeMarkRead }

func (JoinConversation) inbound()  {}
func (LeaveConversation) inbound() {}
func (SendMessage) inbound()       {}
func (Typing) inbound()            {}
func (MarkRead) inbound()          {}

// ParseInbound decodes a client frame into its typed event.
func ParseInbound(raw []byte) (InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedEvent)
	}
	convID := strings.TrimSpace(env.ConversationID)

	switch InboundType(env.Type) {
	case TypeJoinConversation:
		if convID == "" {
			return nil, missingField("conversationId")
		}
		return JoinConversation{ConversationID: convID}, nil

	case TypeLeaveConversation:
		if convID == "" {
			return nil, missingField("conversationId")
		}
		return LeaveConversation{ConversationID: convID}, nil

	case TypeSendMessage:
		if convID == "" {
			return nil, missingField("conversationId")
		}
		var data struct {
			Content string `json:"content"`
			Type    string `json:"type"`
			ReplyTo string `json:"replyTo"`
		}
		if err := decodeData(env.Data, &data); err != nil {
			return nil, err
		}
		if strings.TrimSpace(data.Content) == "" {
			return nil, ErrEmptyContent
		}
		typ := MessageType(data.Type)
		if typ == "" {
			typ = MessageText
		}
		if !typ.Valid() {
			return nil, fmt.Errorf("%w: unsupported message type %q", ErrMalformedEvent, data.Type)
		}
		return SendMessage{
			ConversationID: convID,
			Content:        data.Content,
			Type:           typ,
			ReplyTo:        strings.TrimSpace(data.ReplyTo),
		}, nil

	case TypeTyping:
		if convID == "" {
			return nil, missingField("conversationId")
		}
		var data struct {
			IsTyping *bool `json:"isTyping"`
		}
		if err := decodeData(env.Data, &data); err != nil {
			return nil, err
		}
		if data.IsTyping == nil {
			return nil, missingField("data.isTyping")
		}
		return Typing{ConversationID: convID, IsTyping: *data.IsTyping}, nil

	case TypeMarkRead:
		var data struct {
			MessageID string `json:"messageId"`
		}
		if err := decodeData(env.Data, &data); err != nil {
			return nil, err
		}
		if strings.TrimSpace(data.MessageID) == "" {
			return nil, missingField("data.messageId")
		}
		return MarkRead{MessageID: strings.TrimSpace(data.MessageID)}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return missingField("data")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: data has the wrong shape", ErrMalformedEvent)
	}
	return nil
}

func missingField(name string) error {
	return fmt.Errorf("%w: %s is required", ErrMalformedEvent, name)
}

// Outbound (server → client)

type EventType string

const (
	EventMessage            EventType = "message"
	EventTyping             EventType = "typing"
	EventRead               EventType = "read"
	EventUserJoined         EventType = "user_joined"
	EventUserLeft           EventType = "user_left"
	EventError              EventType = "error"
	EventJoinedConversation EventType = "joined_conversation"
	EventLeftConversation   EventType = "left_conversation"
)

// OutboundEvent is a sealed union: only the types in this file implement it.
type OutboundEvent interface {
	Kind() EventType
	Conversation() string
	outbound()
}

// Event is the envelope shared by every conversation-scoped outbound event.
type Event[T any] struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId"`
	Data           T         `json:"data"`
	Timestamp      time.Time `json:"timestamp"`
}

func (e Event[T]) Kind() EventType      { return e.Type }
func (e Event[T]) Conversation() string { return e.ConversationID }
func (e Event[T]) outbound()            {}

type TypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type ReadPayload struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

type PresencePayload struct {
	UserID string `json:"userId"`
}

type JoinedPayload struct {
	UserID  string   `json:"userId"`
	Members []string `json:"members"`
}

type (
	MessageEvent            = Event[Message]
	TypingEvent             = Event[TypingPayload]
	ReadEvent               = Event[ReadPayload]
	UserJoinedEvent         = Event[PresencePayload]
	UserLeftEvent           = Event[PresencePayload]
	JoinedConversationEvent = Event[JoinedPayload]
	LeftConversationEvent   = Event[PresencePayload]
)

func newEvent[T any](kind EventType, convID string, data T) Event[T] {
	return Event[T]{Type: kind, ConversationID: convID, Data: data, Timestamp: time.Now().UTC()}
}

func NewMessageEvent(convID string, msg Message) MessageEvent {
	return newEvent(EventMessage, convID, msg)
}

func NewTypingEvent(convID, userID string, isTyping bool) TypingEvent {
	return newEvent(EventTyping, convID, TypingPayload{UserID: userID, IsTyping: isTyping})
}

func NewReadEvent(convID, messageID, userID string) ReadEvent {
	return newEvent(EventRead, convID, ReadPayload{MessageID: messageID, UserID: userID})
}

func NewUserJoinedEvent(convID, userID string) UserJoinedEvent {
	return newEvent(EventUserJoined, convID, PresencePayload{UserID: userID})
}

func NewUserLeftEvent(convID, userID string) UserLeftEvent {
	return newEvent(EventUserLeft, convID, PresencePayload{UserID: userID})
}

func NewJoinedConversationEvent(convID, userID string, members []string) JoinedConversationEvent {
	if members == nil {
		members = []string{}
	}
	return newEvent(EventJoinedConversation, convID, JoinedPayload{UserID: userID, Members: members})
}

func NewLeftConversationEvent(convID, userID string) LeftConversationEvent {
	return newEvent(EventLeftConversation, convID, PresencePayload{UserID: userID})
}

// ErrorEvent is the one outbound frame without a conversation envelope.
type ErrorEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

func (ErrorEvent) Kind() EventType      { return EventError }
func (ErrorEvent) Conversation() string { return "" }
func (ErrorEvent) outbound()            {}

func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: EventError, Message: message}
}

// Encode serializes an outbound event for the wire.
func Encode(ev OutboundEvent) ([]byte, error) {
	return json.Marshal(ev)
}
