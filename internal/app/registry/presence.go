package registry

import (
	"sort"
	"sync"

	"github.com/meowlet/mercury-api/internal/core/contracts"
)

// Presence tracks who is actively watching each conversation. A user joined
// from several tabs is counted once per tab and stays present until the last
// tab leaves.
type Presence struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]int      // conversation_id → user_id → joined tabs
	byUser map[string]map[string]struct{} // user_id → conversation_ids
}

var _ contracts.PresenceTracker = (*Presence)(nil)

func NewPresence() *Presence {
	return &Presence{
		rooms:  make(map[string]map[string]int),
		byUser: make(map[string]map[string]struct{}),
	}
}

func (p *Presence) Join(convID, userID string) ([]string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	room, ok := p.rooms[convID]
	if !ok {
		room = make(map[string]int)
		p.rooms[convID] = room
	}
	prior := make([]string, 0, len(room))
	for u := range room {
		if u != userID {
			prior = append(prior, u)
		}
	}
	sort.Strings(prior)

	added := room[userID] == 0
	room[userID]++
	convs, ok := p.byUser[userID]
	if !ok {
		convs = make(map[string]struct{})
		p.byUser[userID] = convs
	}
	convs[convID] = struct{}{}
	return prior, added
}

func (p *Presence) Leave(convID, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	room, ok := p.rooms[convID]
	if !ok || room[userID] == 0 {
		return false
	}
	room[userID]--
	if room[userID] > 0 {
		return false
	}
	p.dropLocked(convID, userID)
	return true
}

func (p *Presence) LeaveAll(userID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	convs := make([]string, 0, len(p.byUser[userID]))
	for convID := range p.byUser[userID] {
		convs = append(convs, convID)
	}
	for _, convID := range convs {
		p.dropLocked(convID, userID)
	}
	sort.Strings(convs)
	return convs
}

func (p *Presence) MembersOf(convID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	room := p.rooms[convID]
	out := make([]string, 0, len(room))
	for u := range room {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (p *Presence) IsPresent(convID, userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rooms[convID][userID] > 0
}

func (p *Presence) Stats() (conversations int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rooms)
}

func (p *Presence) dropLocked(convID, userID string) {
	if room, ok := p.rooms[convID]; ok {
		delete(room, userID)
		if len(room) == 0 {
			delete(p.rooms, convID)
		}
	}
	if convs, ok := p.byUser[userID]; ok {
		delete(convs, convID)
		if len(convs) == 0 {
			delete(p.byUser, userID)
		}
	}
}
