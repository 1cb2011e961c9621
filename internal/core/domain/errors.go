package domain

import "errors"

var (
	ErrInvalidConversationID = errors.New("invalid conversation id")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrNotParticipant        = errors.New("not a participant in this conversation")
	ErrInvalidMessageID      = errors.New("invalid message id")
	ErrMessageNotFound       = errors.New("message not found")
	ErrReplyNotFound         = errors.New("reply message not found")
	ErrNotMessageSender      = errors.New("only the sender can change this message")
	ErrMessageDeleted        = errors.New("message has been deleted")
	ErrInvalidUserID         = errors.New("invalid user id")
	ErrUserNotFound          = errors.New("user not found")

	ErrUnauthenticated  = errors.New("connection is not authenticated")
	ErrNotJoined        = errors.New("not joined to this conversation")
	ErrMalformedEvent   = errors.New("malformed event")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrEmptyContent     = errors.New("message content is required")
)

// IsNotFound reports whether err means the conversation or message is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrConversationNotFound) ||
		errors.Is(err, ErrMessageNotFound) ||
		errors.Is(err, ErrReplyNotFound) ||
		errors.Is(err, ErrUserNotFound)
}

// IsForbidden reports whether err is an authorization failure.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrNotParticipant) ||
		errors.Is(err, ErrNotMessageSender) ||
		errors.Is(err, ErrUnauthenticated)
}

// IsMalformed reports whether err comes from a bad client payload.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedEvent) ||
		errors.Is(err, ErrUnknownEventType) ||
		errors.Is(err, ErrEmptyContent) ||
		errors.Is(err, ErrInvalidConversationID) ||
		errors.Is(err, ErrInvalidMessageID)
}
