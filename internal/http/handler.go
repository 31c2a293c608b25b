package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/davidbz/hearth/internal/domain"
	"github.com/davidbz/hearth/internal/http/middleware"
	"github.com/davidbz/hearth/internal/observability"
)

// Handler handles HTTP requests.
type Handler struct {
	chat *domain.ChatService
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(chat *domain.ChatService) *Handler {
	return &Handler{
		chat: chat,
	}
}

// conversationRef accepts the widget's loose encoding of the conversation
// target: a number, null, false or an absent field all mean the same thing
// for a fresh conversation.
type conversationRef uint

func (c *conversationRef) UnmarshalJSON(data []byte) error {
	switch s := string(bytes.TrimSpace(data)); s {
	case "null", "false", `""`:
		*c = 0
		return nil
	default:
		var v uint
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*c = conversationRef(v)
		return nil
	}
}

type chatRequest struct {
	ConversationID conversationRef `json:"conversation_id"`
	Message        string          `json:"message"`
}

// HandleChat relays one chat message.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := middleware.IdentityFromContext(ctx)
	if !ok {
		respond(w, http.StatusUnauthorized, map[string]string{"error": "Authentication required"})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "Invalid message format"})
		return
	}

	result, err := h.chat.SendMessage(ctx, id, uint(req.ConversationID), req.Message)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	respond(w, http.StatusOK, result)
}

// HandleConversations lists the caller's conversations.
func (h *Handler) HandleConversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := middleware.IdentityFromContext(ctx)
	if !ok {
		respond(w, http.StatusUnauthorized, map[string]string{"error": "Authentication required"})
		return
	}

	conversations, err := h.chat.Conversations(ctx, id)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{"conversations": conversations})
}

// HandleMessages returns one conversation's transcript.
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := middleware.IdentityFromContext(ctx)
	if !ok {
		respond(w, http.StatusUnauthorized, map[string]string{"error": "Authentication required"})
		return
	}

	conversationID, ok := pathID(w, r)
	if !ok {
		return
	}

	messages, err := h.chat.Messages(ctx, id, conversationID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{"messages": messages})
}

// HandleClear removes all messages of a conversation, keeping the shell.
func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := middleware.IdentityFromContext(ctx)
	if !ok {
		respond(w, http.StatusUnauthorized, map[string]string{"error": "Authentication required"})
		return
	}

	conversationID, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.chat.ClearConversation(ctx, id, conversationID); err != nil {
		h.writeError(ctx, w, err)
		return
	}

	respond(w, http.StatusOK, map[string]bool{"cleared": true})
}

// HandleArchive soft-deletes a conversation.
func (h *Handler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := middleware.IdentityFromContext(ctx)
	if !ok {
		respond(w, http.StatusUnauthorized, map[string]string{"error": "Authentication required"})
		return
	}

	conversationID, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.chat.ArchiveConversation(ctx, id, conversationID); err != nil {
		h.writeError(ctx, w, err)
		return
	}

	respond(w, http.StatusOK, map[string]bool{"archived": true})
}

// HandleConfigs lists configurations visible to the caller.
func (h *Handler) HandleConfigs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := middleware.IdentityFromContext(ctx)
	if !ok {
		respond(w, http.StatusUnauthorized, map[string]string{"error": "Authentication required"})
		return
	}

	configs, err := h.chat.Configs(ctx, id)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{"configs": configs})
}

type configRequest struct {
	Name         string   `json:"name"`
	BaseURL      string   `json:"base_url"`
	Model        string   `json:"model"`
	APIToken     string   `json:"api_token"`
	Temperature  *float64 `json:"temperature"`
	MaxTokens    int      `json:"max_tokens"`
	TimeoutMS    int      `json:"timeout_ms"`
	SystemPrompt string   `json:"system_prompt"`
	MaxHistory   int      `json:"max_history"`
	UserID       uint     `json:"user_id"`
	IsDefault    bool     `json:"is_default"`
	Active       *bool    `json:"active"`
}

// HandleCreateConfig persists a new LLM endpoint configuration. The token is
// encrypted at rest and never echoed back.
func (h *Handler) HandleCreateConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := middleware.IdentityFromContext(ctx)
	if !ok {
		respond(w, http.StatusUnauthorized, map[string]string{"error": "Authentication required"})
		return
	}

	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	// Zero is a valid temperature, so absent-vs-zero matters here.
	temperature := domain.DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	cfg, err := h.chat.CreateConfig(ctx, id, &domain.Config{
		Name:         req.Name,
		BaseURL:      req.BaseURL,
		Model:        req.Model,
		APIToken:     req.APIToken,
		Temperature:  temperature,
		MaxTokens:    req.MaxTokens,
		Timeout:      time.Duration(req.TimeoutMS) * time.Millisecond,
		SystemPrompt: req.SystemPrompt,
		MaxHistory:   req.MaxHistory,
		UserID:       req.UserID,
		IsDefault:    req.IsDefault,
		Active:       active,
	})
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	respond(w, http.StatusCreated, cfg)
}

// HandleTestConfig probes a configuration's endpoint with a minimal request.
func (h *Handler) HandleTestConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := middleware.IdentityFromContext(ctx)
	if !ok {
		respond(w, http.StatusUnauthorized, map[string]string{"error": "Authentication required"})
		return
	}

	configID, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.chat.TestConfig(ctx, id, configID); err != nil {
		h.writeError(ctx, w, err)
		return
	}

	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// writeError maps domain errors to their status and user-safe message;
// everything else is masked behind a generic message. Full detail is logged
// server-side either way.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := observability.FromContext(ctx)

	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		logger.Warn("request rejected",
			observability.String("code", domainErr.Code),
			observability.Error(err))
		respond(w, domainErr.Status, map[string]string{"error": domainErr.Message})
		return
	}

	logger.Error("request failed", observability.Error(err))
	respond(w, http.StatusInternalServerError,
		map[string]string{"error": "An unexpected error occurred. Please try again later"})
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// pathID parses the {id} path segment, rejecting non-numeric values.
func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		respond(w, http.StatusBadRequest, map[string]string{"error": "Invalid conversation id"})
		return 0, false
	}
	return uint(id), true
}
