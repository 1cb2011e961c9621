package contracts

import (
	"context"

	"github.com/google/uuid"
	"github.com/meowlet/mercury-api/internal/core/domain"
)

type ConnState int32

const (
	StateOpen ConnState = iota
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Handle is a live connection as the core sees it. The transport owns its
// lifecycle; the core only sends to it and drops references.
type Handle interface {
	ID() uuid.UUID
	Send(ctx context.Context, data []byte) error
	State() ConnState
}

// ConnectionRegistry maps users to the handles they currently own.
type ConnectionRegistry interface {
	// AddConnection registers h under userID and reports whether this was the user's first handle.
	AddConnection(ctx context.Context, userID string, h Handle) bool
	// RemoveConnection drops h and reports whether the user has no handles left.
	RemoveConnection(ctx context.Context, userID string, h Handle) bool
	// SweepDead evicts the user's handles that are no longer open.
	SweepDead(ctx context.Context, userID string) int
	// SweepAll runs SweepDead for every user.
	SweepAll(ctx context.Context) int
	ConnectionCount(userID string) int
	Connections(userID string) []Handle
	OnlineUsers() []string
	// OnUserOffline registers fn to run after a user's last handle is gone.
	OnUserOffline(fn func(ctx context.Context, userID string))
}

// PresenceTracker records which users are actively watching which conversation.
type PresenceTracker interface {
	// Join marks userID present and returns the members present before, plus
	// whether userID was newly added.
	Join(convID, userID string) (prior []string, added bool)
	// Leave drops one presence of userID and reports whether the user is gone from convID.
	Leave(convID, userID string) bool
	MembersOf(convID string) []string
	IsPresent(convID, userID string) bool
	// LeaveAll removes userID everywhere and returns the conversations it left.
	LeaveAll(userID string) []string
}

// Broadcaster pushes outbound events to live handles.
type Broadcaster interface {
	// Broadcast delivers ev to every present member of convID except excludeUserID.
	Broadcast(ctx context.Context, convID string, ev domain.OutboundEvent, excludeUserID string) int
	// SendTo delivers ev to a single handle owned by userID.
	SendTo(ctx context.Context, userID string, h Handle, ev domain.OutboundEvent) error
}
