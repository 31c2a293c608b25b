package domain

import "time"

// Message roles recognised in a conversation transcript.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	// MaxMessageLength caps a single user utterance in characters.
	MaxMessageLength = 10000

	// DefaultTitle is given to conversations until the first exchange completes.
	DefaultTitle = "New Conversation"

	// DefaultTemperature applies when a configuration omits the field. Zero is
	// a valid explicit value, so the default is applied at the boundary.
	DefaultTemperature = 0.7

	// titleLength is the number of characters of the first message kept as title.
	titleLength = 50
)

// Identity is the authenticated caller, as asserted by the fronting gateway.
// Admins may read conversations and configurations they do not own.
type Identity struct {
	UserID uint
	Admin  bool
}

// Config is a snapshot of one LLM endpoint configuration. The token is held
// decrypted in memory only; it is encrypted by the store before persistence
// and never serialized to callers.
type Config struct {
	ID           uint          `json:"id"`
	Name         string        `json:"name"`
	BaseURL      string        `json:"base_url"`
	Model        string        `json:"model"`
	APIToken     string        `json:"-"`
	Temperature  float64       `json:"temperature"`
	MaxTokens    int           `json:"max_tokens"`
	Timeout      time.Duration `json:"-"`
	SystemPrompt string        `json:"system_prompt"`
	MaxHistory   int           `json:"max_history"`
	UserID       uint          `json:"user_id"` // zero means system-wide scope
	IsDefault    bool          `json:"is_default"`
	Active       bool          `json:"active"`
}

// Conversation is a named thread owned by exactly one user.
type Conversation struct {
	ID            uint      `json:"id"`
	Title         string    `json:"name"`
	UserID        uint      `json:"user_id"`
	ConfigID      uint      `json:"-"`
	CreatedAt     time.Time `json:"create_date"`
	MessageCount  int       `json:"message_count"`
	LastMessageAt time.Time `json:"last_message_date"`
}

// Message is one turn of a conversation. Immutable once stored.
type Message struct {
	ID             uint      `json:"id"`
	ConversationID uint      `json:"-"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"create_date"`
	Tokens         int       `json:"-"` // approximate, ~4 chars per token
}

// ChatResult is the success envelope returned by SendMessage.
type ChatResult struct {
	ConversationID uint   `json:"conversation_id"`
	Response       string `json:"response"`
}
