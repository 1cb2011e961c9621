package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/meowlet/mercury-api/internal/core/contracts"
)

type mockHandle struct {
	id       uuid.UUID
	state    atomic.Int32
	mu       sync.Mutex
	received [][]byte
	sendErr  error
}

func newMockHandle() *mockHandle {
	return &mockHandle{id: uuid.New()}
}

func (m *mockHandle) ID() uuid.UUID { return m.id }

func (m *mockHandle) State() contracts.ConnState { return contracts.ConnState(m.state.Load()) }

func (m *mockHandle) setState(s contracts.ConnState) { m.state.Store(int32(s)) }

func (m *mockHandle) Send(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.received = append(m.received, data)
	return nil
}

func (m *mockHandle) getReceived() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received
}

var errBufferFull = errors.New("send buffer full")

type sinkCall struct {
	online bool
	userID string
}

type recordingSink struct {
	mu    sync.Mutex
	calls []sinkCall
	err   error
}

func (s *recordingSink) SetUserOnline(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{online: true, userID: userID})
	return s.err
}

func (s *recordingSink) SetUserOffline(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{online: false, userID: userID})
	return s.err
}

func (s *recordingSink) getCalls() []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkCall(nil), s.calls...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
