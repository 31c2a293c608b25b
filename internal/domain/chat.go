package domain

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/davidbz/hearth/internal/observability"
)

// ChatService orchestrates the message relay: validation, admission,
// conversation resolution, persistence and the upstream completion call.
type ChatService struct {
	store   ConversationStore
	configs ConfigStore
	limiter RateLimiter
	client  CompletionClient
}

// NewChatService creates a new chat service (DI constructor).
func NewChatService(
	store ConversationStore,
	configs ConfigStore,
	limiter RateLimiter,
	client CompletionClient,
) *ChatService {
	return &ChatService{
		store:   store,
		configs: configs,
		limiter: limiter,
		client:  client,
	}
}

// SendMessage relays one user message. Steps are strictly sequential:
// validation gates admission, admission gates persistence, and the user turn
// is durably stored before the upstream call so it survives upstream failure.
// A conversationID of zero creates a new conversation owned by the caller.
func (s *ChatService) SendMessage(
	ctx context.Context,
	id Identity,
	conversationID uint,
	text string,
) (*ChatResult, error) {
	logger := observability.FromContext(ctx)

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		logger.Warn("message too long",
			observability.Int("length", utf8.RuneCountInString(text)))
		return nil, ErrMessageTooLong
	}

	allowed, err := s.limiter.Admit(ctx, id.UserID)
	if err != nil {
		// Fail open: a broken limiter must not take the relay down.
		logger.Error("rate limiter failed, admitting request", observability.Error(err))
		allowed = true
	}
	if !allowed {
		logger.Warn("rate limit exceeded")
		return nil, ErrRateLimited
	}

	conv, err := s.resolveConversation(ctx, id, conversationID)
	if err != nil {
		return nil, err
	}
	ctx = observability.WithConversationID(ctx, conv.ID)
	logger = observability.FromContext(ctx)

	// Persist the user turn before calling upstream so the utterance is
	// never lost on upstream failure.
	if _, err := s.store.AppendMessage(ctx, conv.ID, RoleUser, text); err != nil {
		logger.Error("failed to store user message", observability.Error(err))
		return nil, err
	}

	cfg, err := s.configs.GetConfig(ctx, conv.ConfigID)
	if err != nil {
		logger.Error("failed to load configuration",
			observability.Uint("config_id", conv.ConfigID),
			observability.Error(err))
		return nil, err
	}

	history, err := s.store.RecentMessages(ctx, conv.ID, cfg.MaxHistory)
	if err != nil {
		logger.Error("failed to load history", observability.Error(err))
		return nil, err
	}

	reply, err := s.client.Complete(ctx, cfg, history)
	if err != nil {
		// The user turn stays; no assistant row is written.
		logger.Error("completion failed",
			observability.String("model", cfg.Model),
			observability.Error(err))
		return nil, err
	}

	if _, err := s.store.AppendMessage(ctx, conv.ID, RoleAssistant, reply); err != nil {
		logger.Error("failed to store assistant message", observability.Error(err))
		return nil, err
	}

	s.maybeTitle(ctx, conv, text)

	logger.Info("message relayed",
		observability.String("model", cfg.Model),
		observability.Int("response_length", len(reply)))

	return &ChatResult{
		ConversationID: conv.ID,
		Response:       reply,
	}, nil
}

// resolveConversation loads an existing conversation (enforcing ownership) or
// creates a new one from the caller's default configuration. New conversations
// are persisted immediately so they have a stable ID even if the upstream
// call later fails.
func (s *ChatService) resolveConversation(
	ctx context.Context,
	id Identity,
	conversationID uint,
) (*Conversation, error) {
	if conversationID != 0 {
		return s.store.GetConversation(ctx, conversationID, id)
	}

	logger := observability.FromContext(ctx)

	cfg, err := s.configs.DefaultConfig(ctx, id.UserID)
	if err != nil {
		logger.Error("no usable configuration", observability.Error(err))
		return nil, err
	}

	conv, err := s.store.CreateConversation(ctx, id.UserID, cfg.ID, DefaultTitle)
	if err != nil {
		return nil, err
	}

	logger.Info("created conversation",
		observability.Uint("conversation_id", conv.ID),
		observability.Uint("config_id", cfg.ID))
	return conv, nil
}

// maybeTitle names a fresh conversation after its first exchange.
func (s *ChatService) maybeTitle(ctx context.Context, conv *Conversation, firstMessage string) {
	if conv.Title != DefaultTitle {
		return
	}

	count, err := s.store.CountMessages(ctx, conv.ID)
	if err != nil || count != 2 {
		return
	}

	if err := s.store.SetTitle(ctx, conv.ID, truncateTitle(firstMessage)); err != nil {
		observability.FromContext(ctx).Warn("failed to set conversation title",
			observability.Error(err))
	}
}

func truncateTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= titleLength {
		return content
	}
	return string(runes[:titleLength]) + "..."
}

// Conversations lists the caller's conversations, newest activity first.
func (s *ChatService) Conversations(ctx context.Context, id Identity) ([]Conversation, error) {
	return s.store.ListConversations(ctx, id)
}

// Messages returns a conversation's transcript in creation order, enforcing
// ownership before any message row is read.
func (s *ChatService) Messages(ctx context.Context, id Identity, conversationID uint) ([]Message, error) {
	if _, err := s.store.GetConversation(ctx, conversationID, id); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, conversationID)
}

// ClearConversation removes all messages but keeps the conversation shell.
func (s *ChatService) ClearConversation(ctx context.Context, id Identity, conversationID uint) error {
	if _, err := s.store.GetConversation(ctx, conversationID, id); err != nil {
		return err
	}
	return s.store.ClearMessages(ctx, conversationID)
}

// ArchiveConversation soft-deletes a conversation.
func (s *ChatService) ArchiveConversation(ctx context.Context, id Identity, conversationID uint) error {
	return s.store.ArchiveConversation(ctx, conversationID, id)
}

// Configs lists configurations visible to the caller.
func (s *ChatService) Configs(ctx context.Context, id Identity) ([]Config, error) {
	return s.configs.ListConfigs(ctx, id)
}

// CreateConfig persists a configuration. Non-admins may only create
// configurations scoped to themselves.
func (s *ChatService) CreateConfig(ctx context.Context, id Identity, cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if !id.Admin {
		if cfg.UserID != 0 && cfg.UserID != id.UserID {
			return nil, ErrForbidden
		}
		cfg.UserID = id.UserID
	}
	return s.configs.CreateConfig(ctx, cfg)
}

// TestConfig sends a minimal probe completion through a configuration and
// reports whether the endpoint responds.
func (s *ChatService) TestConfig(ctx context.Context, id Identity, configID uint) error {
	cfg, err := s.configs.GetConfig(ctx, configID)
	if err != nil {
		return err
	}
	if !id.Admin && cfg.UserID != 0 && cfg.UserID != id.UserID {
		return ErrForbidden
	}

	probe := *cfg
	probe.MaxTokens = 10
	probe.Temperature = 0.1
	probe.SystemPrompt = ""

	_, err = s.client.Complete(ctx, &probe, []Message{
		{Role: RoleUser, Content: "Hello"},
	})
	return err
}
