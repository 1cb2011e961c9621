package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/meowlet/mercury-api/internal/app/registry"
	"github.com/meowlet/mercury-api/internal/core/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandle struct {
	id    uuid.UUID
	state atomic.Int32
}

func newStubHandle() *stubHandle { return &stubHandle{id: uuid.New()} }

func (h *stubHandle) ID() uuid.UUID                      { return h.id }
func (h *stubHandle) Send(context.Context, []byte) error { return nil }
func (h *stubHandle) State() contracts.ConnState         { return contracts.ConnState(h.state.Load()) }
func (h *stubHandle) close()                             { h.state.Store(int32(contracts.StateClosed)) }

type fakeKeeper struct {
	mu        sync.Mutex
	refreshed [][]string
	ttls      []time.Duration
	stale     []string
	pruneErr  error
}

func (f *fakeKeeper) Refresh(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, ids)
	return nil
}

func (f *fakeKeeper) PruneStale(_ context.Context, ttl time.Duration) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttls = append(f.ttls, ttl)
	return f.stale, f.pruneErr
}

func (f *fakeKeeper) ticks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refreshed)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestTick_EvictsDeadAndRefreshesLive(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewRegistry(discard(), nil)
	alive, dead := newStubHandle(), newStubHandle()
	reg.AddConnection(ctx, "alice", alive)
	reg.AddConnection(ctx, "bob", dead)
	dead.close()

	var offline []string
	reg.OnUserOffline(func(_ context.Context, userID string) { offline = append(offline, userID) })

	keeper := &fakeKeeper{stale: []string{"ghost"}}
	w := NewSweepWorker(discard(), reg, keeper, time.Minute, 3*time.Minute)
	w.Tick(ctx)

	assert.Equal(t, []string{"bob"}, offline)
	assert.Equal(t, 0, reg.ConnectionCount("bob"))
	require.Len(t, keeper.refreshed, 1)
	assert.Equal(t, []string{"alice"}, keeper.refreshed[0])
	assert.Equal(t, []time.Duration{3 * time.Minute}, keeper.ttls)
}

func TestTick_PruneFailureIsNotFatal(t *testing.T) {
	reg := registry.NewRegistry(discard(), nil)
	keeper := &fakeKeeper{pruneErr: errors.New("redis down")}
	w := NewSweepWorker(discard(), reg, keeper, time.Minute, time.Minute)

	assert.NotPanics(t, func() { w.Tick(context.Background()) })
	assert.Equal(t, 1, keeper.ticks())
}

func TestRun_StopsOnCancel(t *testing.T) {
	reg := registry.NewRegistry(discard(), nil)
	keeper := &fakeKeeper{}
	w := NewSweepWorker(discard(), reg, keeper, 5*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return keeper.ticks() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
