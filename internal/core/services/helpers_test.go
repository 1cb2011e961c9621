package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/meowlet/mercury-api/internal/app/registry"
	"github.com/meowlet/mercury-api/internal/core/contracts"
	"github.com/meowlet/mercury-api/internal/core/domain"
	"github.com/stretchr/testify/require"
)

const (
	conv1 = "6f1c8f8e-4b7e-4d8e-9a51-2d9f4c2a0001"
	conv2 = "6f1c8f8e-4b7e-4d8e-9a51-2d9f4c2a0002"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockHandle struct {
	id       uuid.UUID
	state    atomic.Int32
	mu       sync.Mutex
	received [][]byte
	sendErr  error
}

func newMockHandle() *mockHandle { return &mockHandle{id: uuid.New()} }

func (m *mockHandle) ID() uuid.UUID              { return m.id }
func (m *mockHandle) State() contracts.ConnState { return contracts.ConnState(m.state.Load()) }

func (m *mockHandle) Send(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.received = append(m.received, data)
	return nil
}

func (m *mockHandle) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

func (m *mockHandle) events(t *testing.T) []map[string]any {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.received))
	for _, raw := range m.received {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(raw, &ev))
		out = append(out, ev)
	}
	return out
}

func (m *mockHandle) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, ev := range m.events(t) {
		out = append(out, ev["type"].(string))
	}
	return out
}

func (m *mockHandle) last(t *testing.T) map[string]any {
	t.Helper()
	evs := m.events(t)
	require.NotEmpty(t, evs)
	return evs[len(evs)-1]
}

func (m *mockHandle) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = nil
}

type sinkCall struct {
	online bool
	userID string
}

type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (s *fakeSink) SetUserOnline(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{true, userID})
	return nil
}

func (s *fakeSink) SetUserOffline(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{false, userID})
	return nil
}

func (s *fakeSink) offline(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if !c.online && c.userID == userID {
			n++
		}
	}
	return n
}

// fakeChat is an in-memory membership oracle and message store.
type fakeChat struct {
	mu        sync.Mutex
	members   map[string]map[string]bool
	messages  map[string]*domain.Message
	reads     map[string][]string
	lookups   int
	createErr error
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		members:  make(map[string]map[string]bool),
		messages: make(map[string]*domain.Message),
		reads:    make(map[string][]string),
	}
}

func (f *fakeChat) addMembers(convID string, users ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[convID] == nil {
		f.members[convID] = make(map[string]bool)
	}
	for _, u := range users {
		f.members[convID][u] = true
	}
}

func (f *fakeChat) GetConversation(_ context.Context, convID, userID string) (*domain.Conversation, error) {
	id, err := uuid.Parse(convID)
	if err != nil {
		return nil, domain.ErrInvalidConversationID
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.members[id.String()]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	if !members[userID] {
		return nil, domain.ErrNotParticipant
	}
	return &domain.Conversation{ID: id, IsActive: true}, nil
}

func (f *fakeChat) CreateMessage(_ context.Context, in domain.SendMessageInput) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	msg := domain.NewMessage(in, uuid.MustParse(in.ConversationID), nil)
	f.messages[msg.ID.String()] = msg
	return msg, nil
}

func (f *fakeChat) MarkRead(_ context.Context, messageID, userID string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	if !f.members[msg.ConversationID.String()][userID] {
		return nil, domain.ErrNotParticipant
	}
	f.reads[messageID] = append(f.reads[messageID], userID)
	return msg, nil
}

func (f *fakeChat) GetMessage(_ context.Context, messageID, _ string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return msg, nil
}

type harness struct {
	registry *registry.Registry
	presence *registry.Presence
	chat     *fakeChat
	sink     *fakeSink
	manager  *ManagerService
}

func newHarness(multi bool) *harness {
	log := discardLogger()
	sink := &fakeSink{}
	reg := registry.NewRegistry(log, sink)
	pres := registry.NewPresence()
	b := registry.NewBroadcaster(log, reg, pres)
	chat := newFakeChat()
	router := NewRouter(log, chat, chat, pres, b, multi)
	return &harness{
		registry: reg,
		presence: pres,
		chat:     chat,
		sink:     sink,
		manager:  NewManagerService(log, reg, pres, b, router),
	}
}

type client struct {
	sess *domain.Session
	h    *mockHandle
}

func (hs *harness) connect(t *testing.T, userID string) *client {
	t.Helper()
	h := newMockHandle()
	sess, err := hs.manager.HandleConnect(context.Background(), h, userID)
	require.NoError(t, err)
	return &client{sess: sess, h: h}
}

func (hs *harness) disconnect(c *client) {
	hs.manager.HandleDisconnect(context.Background(), c.sess, c.h)
}

func (hs *harness) send(c *client, frame string) error {
	return hs.manager.HandleMessage(context.Background(), c.sess, c.h, []byte(frame))
}

func (hs *harness) join(t *testing.T, c *client, convID string) {
	t.Helper()
	require.NoError(t, hs.send(c, `{"type":"join_conversation","conversationId":"`+convID+`"}`))
}
