package gorm

import (
	"time"

	"gorm.io/gorm"
)

// conversationRecord is the persisted shape of a conversation. Archiving is a
// GORM soft delete; normal queries never see archived rows.
type conversationRecord struct {
	ID        uint           `gorm:"primaryKey"`
	CreatedAt time.Time      `gorm:"index"`
	UpdatedAt time.Time      `gorm:"index"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
	UserID    uint           `gorm:"index;not null"`
	ConfigID  uint           `gorm:"index"`
	Title     string         `gorm:"size:255"`
}

func (conversationRecord) TableName() string { return "llm_conversations" }

// messageRecord is one immutable turn of a conversation.
type messageRecord struct {
	ID             uint      `gorm:"primaryKey"`
	CreatedAt      time.Time `gorm:"index"`
	ConversationID uint      `gorm:"index;not null"`
	Role           string    `gorm:"size:16;not null"`
	Content        string    `gorm:"type:text;not null"`
	Tokens         int
}

func (messageRecord) TableName() string { return "llm_messages" }

// configRecord is the persisted shape of an LLM endpoint configuration. The
// API token column only ever holds ciphertext.
type configRecord struct {
	ID                uint `gorm:"primaryKey"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         gorm.DeletedAt `gorm:"index"`
	Name              string         `gorm:"size:255"`
	BaseURL           string         `gorm:"size:255;not null"`
	Model             string         `gorm:"size:100;not null"`
	APITokenEncrypted string         `gorm:"column:api_token_encrypted;size:512"`
	Temperature       float64
	MaxTokens         int
	TimeoutMS         int
	SystemPrompt      string `gorm:"type:text"`
	MaxHistory        int
	UserID            uint `gorm:"index"` // zero means system-wide scope
	IsDefault         bool
	Active            bool `gorm:"default:true"`
}

func (configRecord) TableName() string { return "llm_configs" }
