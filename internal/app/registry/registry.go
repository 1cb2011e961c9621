package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/meowlet/mercury-api/internal/core/contracts"
	"github.com/meowlet/mercury-api/pkg/logging"
)

// Registry is the process-wide userID → handles map.
// Presence side effects run after mu is released, serialized per user by a gate.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]map[uuid.UUID]contracts.Handle // user_id → handles
	owners  map[uuid.UUID]string                      // conn_id → user_id
	online  map[string]bool                           // last state told to the sink and hooks
	gates   map[string]*userGate
	offline []func(ctx context.Context, userID string)
	sink    contracts.PresenceSink
	log     *slog.Logger
}

// userGate orders the online/offline transitions of one user.
type userGate struct {
	mu   sync.Mutex
	refs int
}

var _ contracts.ConnectionRegistry = (*Registry)(nil)

func NewRegistry(log *slog.Logger, sink contracts.PresenceSink) *Registry {
	return &Registry{
		conns:  make(map[string]map[uuid.UUID]contracts.Handle),
		owners: make(map[uuid.UUID]string),
		online: make(map[string]bool),
		gates:  make(map[string]*userGate),
		sink:   sink,
		log:    log.With(slog.String("component", "connection_registry")),
	}
}

func (r *Registry) OnUserOffline(fn func(ctx context.Context, userID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = append(r.offline, fn)
}

func (r *Registry) AddConnection(ctx context.Context, userID string, h contracts.Handle) bool {
	id := h.ID()
	r.mu.Lock()
	// a handle belongs to one user at a time
	displaced, lastForDisplaced := "", false
	if prev, ok := r.owners[id]; ok && prev != userID {
		displaced = prev
		_, lastForDisplaced = r.removeLocked(prev, id)
	}
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[uuid.UUID]contracts.Handle)
		r.conns[userID] = set
	}
	first := len(set) == 0
	set[id] = h
	r.owners[id] = userID
	count := len(set)
	r.mu.Unlock()

	if displaced != "" {
		r.log.WarnContext(ctx, "registry - add connection - handle moved between users",
			logging.Connection(id.String()), slog.String("from_user", displaced), logging.User(userID))
		if lastForDisplaced {
			r.markOffline(ctx, displaced)
		}
	}
	r.log.DebugContext(ctx, "registry - add connection - handle registered",
		logging.User(userID), logging.Connection(id.String()), slog.Int("connections", count))
	if first {
		r.markOnline(ctx, userID)
	}
	return first
}

func (r *Registry) RemoveConnection(ctx context.Context, userID string, h contracts.Handle) bool {
	r.mu.Lock()
	removed, last := r.removeLocked(userID, h.ID())
	r.mu.Unlock()

	if !removed {
		return false
	}
	r.log.DebugContext(ctx, "registry - remove connection - handle removed",
		logging.User(userID), logging.Connection(h.ID().String()), slog.Bool("last", last))
	if last {
		r.markOffline(ctx, userID)
	}
	return last
}

func (r *Registry) SweepDead(ctx context.Context, userID string) int {
	r.mu.Lock()
	var dead []uuid.UUID
	for id, h := range r.conns[userID] {
		if h.State() != contracts.StateOpen {
			dead = append(dead, id)
		}
	}
	last := false
	for _, id := range dead {
		_, last = r.removeLocked(userID, id)
	}
	r.mu.Unlock()

	if len(dead) > 0 {
		r.log.InfoContext(ctx, "registry - sweep dead - evicted dead handles",
			logging.User(userID), slog.Int("evicted", len(dead)))
	}
	if last {
		r.markOffline(ctx, userID)
	}
	return len(dead)
}

func (r *Registry) SweepAll(ctx context.Context) int {
	total := 0
	for _, userID := range r.OnlineUsers() {
		total += r.SweepDead(ctx, userID)
	}
	return total
}

func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}

// Connections returns a snapshot of the user's handles.
func (r *Registry) Connections(userID string) []contracts.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.conns[userID]
	out := make([]contracts.Handle, 0, len(set))
	for _, h := range set {
		out = append(out, h)
	}
	return out
}

func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.conns))
	for u := range r.conns {
		users = append(users, u)
	}
	r.mu.RUnlock()
	sort.Strings(users)
	return users
}

func (r *Registry) Stats() (users, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users = len(r.conns)
	connections = len(r.owners)
	return users, connections
}

// removeLocked reports whether the handle was present and whether the user's set emptied.
func (r *Registry) removeLocked(userID string, id uuid.UUID) (removed, last bool) {
	set, ok := r.conns[userID]
	if !ok {
		return false, false
	}
	if _, ok := set[id]; !ok {
		return false, false
	}
	delete(set, id)
	delete(r.owners, id)
	if len(set) == 0 {
		delete(r.conns, userID)
		return true, true
	}
	return true, false
}

// lockUser blocks until no other transition of userID is in flight.
func (r *Registry) lockUser(userID string) func() {
	r.mu.Lock()
	g, ok := r.gates[userID]
	if !ok {
		g = &userGate{}
		r.gates[userID] = g
	}
	g.refs++
	r.mu.Unlock()

	g.mu.Lock()
	return func() {
		g.mu.Unlock()
		r.mu.Lock()
		if g.refs--; g.refs == 0 {
			delete(r.gates, userID)
		}
		r.mu.Unlock()
	}
}

// flip records the transition to online when the current handle count calls
// for it; it reports false when the user is already in that state.
func (r *Registry) flip(userID string, online bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if (len(r.conns[userID]) > 0) != online || r.online[userID] == online {
		return false
	}
	if online {
		r.online[userID] = true
	} else {
		delete(r.online, userID)
	}
	return true
}

func (r *Registry) markOnline(ctx context.Context, userID string) {
	unlock := r.lockUser(userID)
	defer unlock()
	// an offline transition may have run while we waited and the handle is gone again
	if !r.flip(userID, true) || r.sink == nil {
		return
	}
	if err := r.sink.SetUserOnline(ctx, userID); err != nil {
		r.log.ErrorContext(ctx, "registry - mark online - presence sink failed", logging.User(userID), logging.Err(err))
	}
}

func (r *Registry) markOffline(ctx context.Context, userID string) {
	unlock := r.lockUser(userID)
	defer unlock()
	// a reconnect may have raced in between
	if !r.flip(userID, false) {
		return
	}
	if r.sink != nil {
		if err := r.sink.SetUserOffline(ctx, userID); err != nil {
			r.log.ErrorContext(ctx, "registry - mark offline - presence sink failed", logging.User(userID), logging.Err(err))
		}
	}
	r.mu.RLock()
	hooks := make([]func(context.Context, string), len(r.offline))
	copy(hooks, r.offline)
	r.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, userID)
	}
}
