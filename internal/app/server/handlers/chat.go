package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/meowlet/mercury-api/internal/core/contracts"
	"github.com/meowlet/mercury-api/internal/core/domain"
	"github.com/meowlet/mercury-api/internal/core/services"
	"github.com/meowlet/mercury-api/pkg/logging"
	"github.com/meowlet/mercury-api/pkg/middleware"
)

// MessageHistory is the part of the chat service the REST surface needs.
type MessageHistory interface {
	GetMessages(ctx context.Context, convID, userID string, page domain.Page) ([]domain.Message, int, error)
	EditMessage(ctx context.Context, messageID, userID, content string) (*domain.Message, error)
	DeleteMessage(ctx context.Context, messageID, userID string) (*domain.Message, error)
}

type PresenceReader interface {
	GetPresence(ctx context.Context, userID string) (*services.Presence, error)
}

type ChatHandler struct {
	messages    MessageHistory
	presence    PresenceReader
	broadcaster contracts.Broadcaster
}

func NewChatHandler(messages MessageHistory, presence PresenceReader, broadcaster contracts.Broadcaster) *ChatHandler {
	return &ChatHandler{messages: messages, presence: presence, broadcaster: broadcaster}
}

type historyResponse struct {
	Messages []domain.Message `json:"messages"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
}

// GET /conversations/{id}/messages?page=&limit=
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	convID := r.PathValue("id")
	page, err := pageFrom(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msgs, total, err := h.messages.GetMessages(r.Context(), convID, middleware.UserID(r.Context()), page)
	if err != nil {
		log.WarnContext(r.Context(), "chat handler - history - failed", logging.Conversation(convID), logging.Err(err))
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	page = page.Normalize()
	writeJSON(w, http.StatusOK, historyResponse{Messages: msgs, Total: total, Page: page.Page, Limit: page.Limit})
}

// PATCH /messages/{id}
func (h *ChatHandler) Edit(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.WarnContext(r.Context(), "chat handler - edit - bad request", logging.Err(err))
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	msg, err := h.messages.EditMessage(r.Context(), r.PathValue("id"), middleware.UserID(r.Context()), req.Content)
	if err != nil {
		log.WarnContext(r.Context(), "chat handler - edit - failed", logging.Message(r.PathValue("id")), logging.Err(err))
		writeError(w, err)
		return
	}
	h.publish(r.Context(), msg)
	writeJSON(w, http.StatusOK, msg)
}

// DELETE /messages/{id}
func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	msg, err := h.messages.DeleteMessage(r.Context(), r.PathValue("id"), middleware.UserID(r.Context()))
	if err != nil {
		log.WarnContext(r.Context(), "chat handler - delete - failed", logging.Message(r.PathValue("id")), logging.Err(err))
		writeError(w, err)
		return
	}
	h.publish(r.Context(), msg)
	writeJSON(w, http.StatusOK, msg)
}

// GET /users/{id}/presence
func (h *ChatHandler) Presence(w http.ResponseWriter, r *http.Request) {
	p, err := h.presence.GetPresence(r.Context(), r.PathValue("id"))
	if err != nil {
		logging.FromContext(r.Context()).WarnContext(r.Context(), "chat handler - presence - failed", logging.Err(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// publish pushes the changed message to everyone watching its conversation.
func (h *ChatHandler) publish(ctx context.Context, msg *domain.Message) {
	convID := msg.ConversationID.String()
	h.broadcaster.Broadcast(ctx, convID, domain.NewMessageEvent(convID, *msg), "")
}

func pageFrom(r *http.Request) (domain.Page, error) {
	var p domain.Page
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, errors.New("page must be a number")
		}
		p.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, errors.New("limit must be a number")
		}
		p.Limit = n
	}
	return p, nil
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case domain.IsForbidden(err):
		http.Error(w, err.Error(), http.StatusForbidden)
	case domain.IsMalformed(err), errors.Is(err, domain.ErrMessageDeleted), errors.Is(err, domain.ErrInvalidUserID):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
