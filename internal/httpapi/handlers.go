// Package httpapi exposes the REST surface of the chat service: conversation
// management, history reads, and a send endpoint that runs the same pipeline
// as the WebSocket path. All routes require a Bearer token.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dressly/chat-service/internal/auth"
	"github.com/dressly/chat-service/internal/chat"
	"github.com/dressly/chat-service/internal/protocol"
	"github.com/dressly/chat-service/internal/store"
)

// requestTimeout bounds the database work done for a single request.
const requestTimeout = 10 * time.Second

// ChatService is the subset of the chat pipeline the API depends on.
type ChatService interface {
	Send(ctx context.Context, senderID, conversationID, content string) (*store.Message, error)
	History(ctx context.Context, userID, conversationID string, limit int) ([]store.Message, error)
	EnsureConversation(ctx context.Context, userID, otherUserID string) (*store.Conversation, error)
	CreateGroup(ctx context.Context, creatorID, name string, participantIDs []string) (*store.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]store.Conversation, error)
}

// Handler serves the REST API.
type Handler struct {
	svc      ChatService
	verifier *auth.Verifier
	validate *validator.Validate
}

// NewHandler creates the REST handler.
func NewHandler(svc ChatService, verifier *auth.Verifier) *Handler {
	return &Handler{
		svc:      svc,
		verifier: verifier,
		validate: validator.New(),
	}
}

// Register mounts the API routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /chat/conversations", h.withAuth(h.createConversation))
	mux.HandleFunc("GET /chat/conversations", h.withAuth(h.listConversations))
	mux.HandleFunc("GET /chat/conversations/{id}/messages", h.withAuth(h.listMessages))
	mux.HandleFunc("POST /chat/messages", h.withAuth(h.sendMessage))
}

// withAuth verifies the Bearer token and passes the authenticated user ID to
// the wrapped handler.
func (h *Handler) withAuth(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, protocol.CodeNoToken, "authentication token required")
			return
		}
		userID, err := h.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, protocol.CodeAuthFailed, "authentication failed")
			return
		}
		next(w, r, userID)
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

type createConversationRequest struct {
	ParticipantID  string   `json:"participantId" validate:"required_without=ParticipantIDs"`
	Name           string   `json:"name"`
	ParticipantIDs []string `json:"participantIds" validate:"omitempty,min=1,dive,required"`
}

type conversationResponse struct {
	ID           string            `json:"id"`
	IsGroup      bool              `json:"isGroup"`
	Name         string            `json:"name,omitempty"`
	Participants []string          `json:"participants"`
	LastMessage  *lastMessageView  `json:"lastMessage,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

type lastMessageView struct {
	Content  string    `json:"content"`
	SenderID string    `json:"senderId"`
	SentAt   time.Time `json:"sentAt"`
}

func toConversationResponse(c *store.Conversation) conversationResponse {
	resp := conversationResponse{
		ID:           c.ID,
		IsGroup:      c.IsGroup,
		Name:         c.Name,
		Participants: c.Participants,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	if c.LastMessage != nil {
		resp.LastMessage = &lastMessageView{
			Content:  c.LastMessage.Content,
			SenderID: c.LastMessage.SenderID,
			SentAt:   c.LastMessage.SentAt,
		}
	}
	return resp
}

// createConversation ensures a direct conversation with another user, or
// creates a group when participantIds is present.
func (h *Handler) createConversation(w http.ResponseWriter, r *http.Request, userID string) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.CodeInvalidPayload, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.CodeInvalidPayload, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var (
		conv *store.Conversation
		err  error
	)
	if len(req.ParticipantIDs) > 0 {
		conv, err = h.svc.CreateGroup(ctx, userID, req.Name, req.ParticipantIDs)
	} else {
		conv, err = h.svc.EnsureConversation(ctx, userID, req.ParticipantID)
	}
	if err != nil {
		if errors.Is(err, store.ErrTooFewParticipants) {
			writeError(w, http.StatusBadRequest, protocol.CodeInvalidPayload, "conversation needs at least two distinct participants")
			return
		}
		h.internalError(w, "create conversation", err)
		return
	}

	writeJSON(w, http.StatusCreated, toConversationResponse(conv))
}

// listConversations returns the caller's conversations, most recently
// active first.
func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request, userID string) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	convs, err := h.svc.ListConversations(ctx, userID)
	if err != nil {
		h.internalError(w, "list conversations", err)
		return
	}

	out := make([]conversationResponse, len(convs))
	for i := range convs {
		out[i] = toConversationResponse(&convs[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

// listMessages returns a conversation's history in chronological order.
// Accepts an optional ?limit= query parameter.
func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request, userID string) {
	conversationID := r.PathValue("id")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, protocol.CodeInvalidPayload, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	msgs, err := h.svc.History(ctx, userID, conversationID, limit)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	wire := make([]protocol.Message, len(msgs))
	for i := range msgs {
		wire[i] = chat.WireMessage(&msgs[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": wire})
}

type sendMessageRequest struct {
	ConversationID string `json:"conversationId" validate:"required"`
	Content        string `json:"content" validate:"required"`
}

// sendMessage runs the message pipeline for REST callers. Delivery to live
// WebSocket clients happens through the same fan-out as socket sends.
func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request, userID string) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.CodeInvalidPayload, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.CodeInvalidPayload, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	msg, err := h.svc.Send(ctx, userID, req.ConversationID, req.Content)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"message": chat.WireMessage(msg)})
}

// serviceError maps chat pipeline errors onto HTTP responses.
func (h *Handler) serviceError(w http.ResponseWriter, err error) {
	var blocked *chat.ContentBlockedError
	var invalid *chat.InvalidContentError
	switch {
	case errors.As(err, &blocked):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "message blocked by content moderation",
			"code":       protocol.CodeContentBlocked,
			"violations": blocked.Violations,
		})
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, protocol.CodeInvalidPayload, invalid.Reason)
	case errors.Is(err, chat.ErrNotFound):
		writeError(w, http.StatusNotFound, protocol.CodeNotFound, "conversation not found")
	case errors.Is(err, chat.ErrForbidden):
		writeError(w, http.StatusForbidden, protocol.CodeForbidden, "not a participant of this conversation")
	default:
		h.internalError(w, "chat operation", err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	log.Printf("httpapi: %s: %v", op, err)
	writeError(w, http.StatusInternalServerError, protocol.CodeInternalError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
