// Package gorm persists conversations, messages and LLM configurations in
// sqlite through GORM. Ownership checks are explicit in every operation that
// takes a caller identity, rather than implicit query filters.
package gorm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/davidbz/hearth/internal/config"
	"github.com/davidbz/hearth/internal/domain"
)

const (
	// listLimit bounds the conversation listing, newest activity first.
	listLimit = 50

	// charsPerToken is the crude estimate used for the per-message count.
	charsPerToken = 4
)

// Store implements domain.ConversationStore and domain.ConfigStore.
type Store struct {
	db     *gorm.DB
	cipher domain.TokenCipher
}

// Open connects to the sqlite database, runs migrations and returns a Store
// (DI constructor).
func Open(cfg *config.DatabaseConfig, cipher domain.TokenCipher) (*Store, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// sqlite supports a single writer; see glebarez/sqlite#52.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&conversationRecord{}, &messageRecord{}, &configRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return New(db, cipher), nil
}

// New wraps an existing GORM handle; used by tests.
func New(db *gorm.DB, cipher domain.TokenCipher) *Store {
	return &Store{
		db:     db,
		cipher: cipher,
	}
}

// CreateConversation persists a new conversation owned by userID.
func (s *Store) CreateConversation(
	ctx context.Context,
	userID, configID uint,
	title string,
) (*domain.Conversation, error) {
	rec := conversationRecord{
		UserID:   userID,
		ConfigID: configID,
		Title:    title,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return toConversation(&rec, 0, time.Time{}), nil
}

// GetConversation loads a conversation and enforces ownership.
func (s *Store) GetConversation(
	ctx context.Context,
	conversationID uint,
	id domain.Identity,
) (*domain.Conversation, error) {
	rec, err := s.ownedConversation(ctx, conversationID, id)
	if err != nil {
		return nil, err
	}

	count, last, err := s.messageStats(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return toConversation(rec, count, last), nil
}

// ListConversations returns the caller's conversations ordered by most recent
// activity. Admins see every user's conversations.
func (s *Store) ListConversations(ctx context.Context, id domain.Identity) ([]domain.Conversation, error) {
	query := s.db.WithContext(ctx).Order("updated_at DESC").Limit(listLimit)
	if !id.Admin {
		query = query.Where("user_id = ?", id.UserID)
	}

	var recs []conversationRecord
	if err := query.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if len(recs) == 0 {
		return []domain.Conversation{}, nil
	}

	ids := make([]uint, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}

	type statsRow struct {
		ConversationID uint
		Count          int
		Last           *time.Time
	}
	var rows []statsRow
	err := s.db.WithContext(ctx).
		Model(&messageRecord{}).
		Select("conversation_id, COUNT(*) AS count, MAX(created_at) AS last").
		Where("conversation_id IN ?", ids).
		Group("conversation_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate message stats: %w", err)
	}

	stats := make(map[uint]statsRow, len(rows))
	for _, row := range rows {
		stats[row.ConversationID] = row
	}

	out := make([]domain.Conversation, len(recs))
	for i, rec := range recs {
		st := stats[rec.ID]
		var last time.Time
		if st.Last != nil {
			last = *st.Last
		}
		out[i] = *toConversation(&rec, st.Count, last)
	}
	return out, nil
}

// ArchiveConversation soft-deletes a conversation after the ownership check.
func (s *Store) ArchiveConversation(ctx context.Context, conversationID uint, id domain.Identity) error {
	if _, err := s.ownedConversation(ctx, conversationID, id); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&conversationRecord{}, conversationID).Error; err != nil {
		return fmt.Errorf("failed to archive conversation: %w", err)
	}
	return nil
}

// SetTitle renames a conversation.
func (s *Store) SetTitle(ctx context.Context, conversationID uint, title string) error {
	err := s.db.WithContext(ctx).
		Model(&conversationRecord{}).
		Where("id = ?", conversationID).
		Update("title", title).Error
	if err != nil {
		return fmt.Errorf("failed to set title: %w", err)
	}
	return nil
}

// AppendMessage stores one turn and bumps the conversation's activity time.
func (s *Store) AppendMessage(
	ctx context.Context,
	conversationID uint,
	role, content string,
) (*domain.Message, error) {
	rec := messageRecord{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Tokens:         utf8.RuneCountInString(content) / charsPerToken,
	}

	// The insert and the activity bump commit together or not at all.
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to append message: %w", err)
		}
		err := tx.Model(&conversationRecord{}).
			Where("id = ?", conversationID).
			Update("updated_at", time.Now()).Error
		if err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return toMessage(&rec), nil
}

// ListMessages returns all messages in creation order.
func (s *Store) ListMessages(ctx context.Context, conversationID uint) ([]domain.Message, error) {
	var recs []messageRecord
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	out := make([]domain.Message, len(recs))
	for i, rec := range recs {
		out[i] = *toMessage(&rec)
	}
	return out, nil
}

// RecentMessages returns up to limit newest messages in chronological order.
func (s *Store) RecentMessages(ctx context.Context, conversationID uint, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return s.ListMessages(ctx, conversationID)
	}

	var recs []messageRecord
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}

	// Newest-first from the query; flip back to chronological.
	out := make([]domain.Message, len(recs))
	for i, rec := range recs {
		out[len(recs)-1-i] = *toMessage(&rec)
	}
	return out, nil
}

// CountMessages returns the number of messages in a conversation.
func (s *Store) CountMessages(ctx context.Context, conversationID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&messageRecord{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// ClearMessages removes all messages but keeps the conversation shell.
func (s *Store) ClearMessages(ctx context.Context, conversationID uint) error {
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&messageRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	return nil
}

// ownedConversation loads a record and applies the ownership rule shared by
// every conversation-scoped operation.
func (s *Store) ownedConversation(
	ctx context.Context,
	conversationID uint,
	id domain.Identity,
) (*conversationRecord, error) {
	var rec conversationRecord
	err := s.db.WithContext(ctx).First(&rec, conversationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	if rec.UserID != id.UserID && !id.Admin {
		return nil, domain.ErrForbidden
	}
	return &rec, nil
}

func (s *Store) messageStats(ctx context.Context, conversationID uint) (int, time.Time, error) {
	var row struct {
		Count int
		Last  *time.Time
	}
	err := s.db.WithContext(ctx).
		Model(&messageRecord{}).
		Select("COUNT(*) AS count, MAX(created_at) AS last").
		Where("conversation_id = ?", conversationID).
		Scan(&row).Error
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to load message stats: %w", err)
	}

	var last time.Time
	if row.Last != nil {
		last = *row.Last
	}
	return row.Count, last, nil
}

func toConversation(rec *conversationRecord, count int, last time.Time) *domain.Conversation {
	return &domain.Conversation{
		ID:            rec.ID,
		Title:         rec.Title,
		UserID:        rec.UserID,
		ConfigID:      rec.ConfigID,
		CreatedAt:     rec.CreatedAt,
		MessageCount:  count,
		LastMessageAt: last,
	}
}

func toMessage(rec *messageRecord) *domain.Message {
	return &domain.Message{
		ID:             rec.ID,
		ConversationID: rec.ConversationID,
		Role:           rec.Role,
		Content:        rec.Content,
		CreatedAt:      rec.CreatedAt,
		Tokens:         rec.Tokens,
	}
}
