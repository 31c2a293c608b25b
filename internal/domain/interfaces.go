package domain

import "context"

// ConversationStore persists conversations and their messages. Every operation
// taking an Identity performs the ownership check itself and returns
// ErrNotFound / ErrForbidden; there is no implicit query filtering.
type ConversationStore interface {
	// CreateConversation persists a new conversation owned by userID.
	CreateConversation(ctx context.Context, userID, configID uint, title string) (*Conversation, error)

	// GetConversation loads a conversation, enforcing ownership.
	GetConversation(ctx context.Context, conversationID uint, id Identity) (*Conversation, error)

	// ListConversations returns the caller's conversations, newest activity
	// first. Admins see all users' conversations.
	ListConversations(ctx context.Context, id Identity) ([]Conversation, error)

	// ArchiveConversation soft-deletes a conversation, enforcing ownership.
	ArchiveConversation(ctx context.Context, conversationID uint, id Identity) error

	// SetTitle renames a conversation.
	SetTitle(ctx context.Context, conversationID uint, title string) error

	// AppendMessage stores one turn. Ownership is checked by the caller
	// against the parent conversation before appending.
	AppendMessage(ctx context.Context, conversationID uint, role, content string) (*Message, error)

	// ListMessages returns all messages of a conversation in creation order.
	ListMessages(ctx context.Context, conversationID uint) ([]Message, error)

	// RecentMessages returns up to limit newest messages, still in
	// chronological order, for building the upstream prompt.
	RecentMessages(ctx context.Context, conversationID uint, limit int) ([]Message, error)

	// CountMessages returns the number of messages in a conversation.
	CountMessages(ctx context.Context, conversationID uint) (int64, error)

	// ClearMessages removes all messages but keeps the conversation shell.
	ClearMessages(ctx context.Context, conversationID uint) error
}

// ConfigStore persists LLM endpoint configurations with tokens encrypted at
// rest. Loaded snapshots carry the decrypted token.
type ConfigStore interface {
	// CreateConfig validates and persists a configuration.
	CreateConfig(ctx context.Context, cfg *Config) (*Config, error)

	// GetConfig loads a configuration by ID without scope filtering; used by
	// the orchestrator at message-send time.
	GetConfig(ctx context.Context, configID uint) (*Config, error)

	// ListConfigs returns configurations visible to the caller: own plus
	// system-wide, or all for admins. Tokens are not decrypted for listings.
	ListConfigs(ctx context.Context, id Identity) ([]Config, error)

	// DefaultConfig resolves the configuration for a new conversation:
	// the user's default, else the system default, else any active config.
	DefaultConfig(ctx context.Context, userID uint) (*Config, error)
}

// RateLimiter admits or denies a request under a per-user sliding window.
type RateLimiter interface {
	// Admit records the request and returns true when under the limit. The
	// check and the record are atomic for a given user.
	Admit(ctx context.Context, userID uint) (bool, error)
}

// CompletionClient is a stateless adapter to an OpenAI-compatible endpoint,
// reconstructed per call from a configuration snapshot. It performs no
// retries; failures map onto ErrConnection, ErrTimeout, ErrFormat and
// UpstreamError.
type CompletionClient interface {
	Complete(ctx context.Context, cfg *Config, history []Message) (string, error)
}

// TokenCipher encrypts API tokens at rest.
type TokenCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}
