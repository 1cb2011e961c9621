package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/meowlet/mercury-api/internal/app/registry"
	"github.com/meowlet/mercury-api/internal/app/server/ws"
	"github.com/meowlet/mercury-api/internal/core/contracts"
	"github.com/meowlet/mercury-api/internal/core/domain"
	"github.com/meowlet/mercury-api/internal/core/services"
	"github.com/meowlet/mercury-api/pkg/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const roomID = "6f1c2a9e-3b7d-4c1e-9a55-0d2b7f8e4c11"

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// tokenIsUser treats the bearer token as the user id.
type tokenIsUser struct{}

func (tokenIsUser) ValidateToken(token string) (string, error) {
	if token == "bad" {
		return "", errors.New("token is malformed")
	}
	return token, nil
}

type fakeRoom struct {
	members map[string]bool
}

func (f *fakeRoom) GetConversation(_ context.Context, convID, userID string) (*domain.Conversation, error) {
	id, err := uuid.Parse(convID)
	if err != nil {
		return nil, domain.ErrInvalidConversationID
	}
	if id.String() != roomID {
		return nil, domain.ErrConversationNotFound
	}
	if !f.members[userID] {
		return nil, domain.ErrNotParticipant
	}
	return &domain.Conversation{ID: id, Type: domain.ConversationGroup, IsActive: true}, nil
}

func (f *fakeRoom) CreateMessage(_ context.Context, in domain.SendMessageInput) (*domain.Message, error) {
	return domain.NewMessage(in, uuid.MustParse(in.ConversationID), nil), nil
}

func (f *fakeRoom) MarkRead(context.Context, string, string) (*domain.Message, error) {
	return nil, domain.ErrMessageNotFound
}

func (f *fakeRoom) GetMessage(context.Context, string, string) (*domain.Message, error) {
	return nil, domain.ErrMessageNotFound
}

type wsFixture struct {
	srv      *httptest.Server
	registry *registry.Registry
	handler  *WSHandler
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	return newWSFixtureWith(t, nil)
}

// newWSFixtureWith lets a test wrap the manager the handler talks to.
func newWSFixtureWith(t *testing.T, wrap func(services.IManagerService) services.IManagerService) *wsFixture {
	t.Helper()
	log := discardLogger()
	room := &fakeRoom{members: map[string]bool{"alice": true, "bob": true}}
	reg := registry.NewRegistry(log, nil)
	presence := registry.NewPresence()
	broadcaster := registry.NewBroadcaster(log, reg, presence)
	router := services.NewRouter(log, room, room, presence, broadcaster, false)
	var manager services.IManagerService = services.NewManagerService(log, reg, presence, broadcaster, router)
	if wrap != nil {
		manager = wrap(manager)
	}

	h := NewWSHandler(manager, ws.Options{PongWait: 5 * time.Second})
	auth := middleware.AuthMiddleware(tokenIsUser{})
	srv := httptest.NewServer(middleware.RequestLogger(log)(auth(http.HandlerFunc(h.Handler))))
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return &wsFixture{srv: srv, registry: reg, handler: h}
}

func (f *wsFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	// the server registers the handle right after the upgrade
	require.Eventually(t, func() bool { return f.registry.ConnectionCount(token) > 0 }, time.Second, 5*time.Millisecond)
	return conn
}

type frame struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId"`
	Message        string          `json:"message"`
	Data           json.RawMessage `json:"data"`
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func next(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func join(convID string) map[string]any {
	return map[string]any{"type": "join_conversation", "conversationId": convID}
}

func TestWS_RejectsMissingToken(t *testing.T) {
	f := newWSFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=bad", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWS_JoinSendAndLeaveOnDisconnect(t *testing.T) {
	f := newWSFixture(t)
	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	send(t, alice, join(roomID))
	got := next(t, alice)
	assert.Equal(t, "joined_conversation", got.Type)
	assert.Equal(t, roomID, got.ConversationID)

	send(t, bob, join(strings.ToUpper(roomID)))
	got = next(t, bob)
	require.Equal(t, "joined_conversation", got.Type)
	var joined domain.JoinedPayload
	require.NoError(t, json.Unmarshal(got.Data, &joined))
	assert.Equal(t, []string{"alice", "bob"}, joined.Members)

	got = next(t, alice)
	assert.Equal(t, "user_joined", got.Type)
	assert.JSONEq(t, `{"userId":"bob"}`, string(got.Data))

	send(t, alice, map[string]any{
		"type":           "send_message",
		"conversationId": roomID,
		"data":           map[string]any{"content": "hello"},
	})
	for _, conn := range []*websocket.Conn{alice, bob} {
		got = next(t, conn)
		require.Equal(t, "message", got.Type)
		var msg domain.Message
		require.NoError(t, json.Unmarshal(got.Data, &msg))
		assert.Equal(t, "hello", msg.Content)
		assert.Equal(t, "alice", msg.SenderID)
	}

	require.NoError(t, bob.Close())
	got = next(t, alice)
	assert.Equal(t, "user_left", got.Type)
	assert.JSONEq(t, `{"userId":"bob"}`, string(got.Data))
	assert.Eventually(t, func() bool { return f.registry.ConnectionCount("bob") == 0 }, time.Second, 5*time.Millisecond)
}

func TestWS_ErrorsKeepConnectionOpen(t *testing.T) {
	f := newWSFixture(t)
	alice := f.dial(t, "alice")

	alice.WriteMessage(websocket.TextMessage, []byte("{not json"))
	got := next(t, alice)
	assert.Equal(t, "error", got.Type)
	assert.True(t, strings.HasPrefix(got.Message, "Invalid message: "), got.Message)

	send(t, alice, join(uuid.NewString()))
	got = next(t, alice)
	assert.Equal(t, "error", got.Type)
	assert.Equal(t, "Failed to join conversation: conversation not found", got.Message)

	send(t, alice, map[string]any{
		"type":           "send_message",
		"conversationId": roomID,
		"data":           map[string]any{"content": "too early"},
	})
	got = next(t, alice)
	assert.Equal(t, "Failed to send message: not joined to this conversation", got.Message)

	send(t, alice, join(roomID))
	assert.Equal(t, "joined_conversation", next(t, alice).Type)
}

func TestWS_CloseSendsGoingAway(t *testing.T) {
	f := newWSFixture(t)
	alice := f.dial(t, "alice")

	f.handler.Close()
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := alice.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Eventually(t, func() bool { return f.registry.ConnectionCount("alice") == 0 }, time.Second, 5*time.Millisecond)
}

// heldDisconnect parks HandleDisconnect until release is closed.
type heldDisconnect struct {
	services.IManagerService
	entered chan struct{}
	release chan struct{}
}

func (m *heldDisconnect) HandleDisconnect(ctx context.Context, sess *domain.Session, h contracts.Handle) {
	close(m.entered)
	<-m.release
	m.IManagerService.HandleDisconnect(ctx, sess, h)
}

func TestWS_WaitCoversDisconnect(t *testing.T) {
	f := newWSFixture(t)
	f.dial(t, "alice")

	f.handler.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.handler.Wait(ctx))
	// no polling: the disconnect already ran when Wait returned
	assert.Zero(t, f.registry.ConnectionCount("alice"))
}

func TestWS_WaitBoundedByContext(t *testing.T) {
	held := &heldDisconnect{entered: make(chan struct{}), release: make(chan struct{})}
	f := newWSFixtureWith(t, func(m services.IManagerService) services.IManagerService {
		held.IManagerService = m
		return held
	})
	f.dial(t, "alice")

	f.handler.Close()
	<-held.entered
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.handler.Wait(ctx), context.DeadlineExceeded)
	assert.Equal(t, 1, f.registry.ConnectionCount("alice"))

	close(held.release)
	require.NoError(t, f.handler.Wait(context.Background()))
	assert.Zero(t, f.registry.ConnectionCount("alice"))
}

func TestWS_RejectsUpgradeAfterClose(t *testing.T) {
	f := newWSFixture(t)
	f.handler.Close()

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/?token=alice"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.NoError(t, f.handler.Wait(context.Background()))
}
