package gorm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/davidbz/hearth/internal/domain"
)

// Defaults matching the values shipped for a local Ollama endpoint.
const (
	defaultBaseURL      = "http://localhost:11434/v1"
	defaultModel        = "llama3.2"
	defaultToken        = "ollama"
	defaultMaxTokens    = 2048
	defaultTimeout      = 120 * time.Second
	defaultMaxHistory   = 50
	defaultSystemPrompt = "You are a helpful AI assistant integrated into an ERP system. " +
		"Help users with their tasks, answer questions, and provide insights based on their business data. " +
		"Keep responses clear, concise, and professional."
)

// Value constraints enforced on create.
const (
	minTemperature = 0.0
	maxTemperature = 2.0
	minMaxTokens   = 128
	maxMaxTokens   = 32768
)

// errDuplicateDefault preserves the at-most-one-default-per-scope invariant.
var errDuplicateDefault = &domain.Error{
	Code:    "invalid_config",
	Message: "Only one default configuration is allowed per user",
	Status:  http.StatusBadRequest,
}

// CreateConfig validates, fills defaults, encrypts the token and persists a
// configuration.
func (s *Store) CreateConfig(ctx context.Context, cfg *domain.Config) (*domain.Config, error) {
	applyConfigDefaults(cfg)

	if cfg.Temperature < minTemperature || cfg.Temperature > maxTemperature {
		return nil, &domain.Error{
			Code:    "invalid_config",
			Message: "Temperature must be between 0.0 and 2.0",
			Status:  http.StatusBadRequest,
		}
	}
	if cfg.MaxTokens < minMaxTokens || cfg.MaxTokens > maxMaxTokens {
		return nil, &domain.Error{
			Code:    "invalid_config",
			Message: "Max tokens must be between 128 and 32768",
			Status:  http.StatusBadRequest,
		}
	}

	encrypted, err := s.cipher.Encrypt(cfg.APIToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt token: %w", err)
	}

	rec := configRecord{
		Name:              cfg.Name,
		BaseURL:           cfg.BaseURL,
		Model:             cfg.Model,
		APITokenEncrypted: encrypted,
		Temperature:       cfg.Temperature,
		MaxTokens:         cfg.MaxTokens,
		TimeoutMS:         int(cfg.Timeout / time.Millisecond),
		SystemPrompt:      cfg.SystemPrompt,
		MaxHistory:        cfg.MaxHistory,
		UserID:            cfg.UserID,
		IsDefault:         cfg.IsDefault,
		Active:            cfg.Active,
	}

	// Check-then-insert runs in one transaction so concurrent creates cannot
	// both claim the default slot for a scope.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if cfg.IsDefault {
			var count int64
			err := tx.Model(&configRecord{}).
				Where("is_default = ? AND user_id = ? AND active = ?", true, cfg.UserID, true).
				Count(&count).Error
			if err != nil {
				return fmt.Errorf("failed to check default uniqueness: %w", err)
			}
			if count > 0 {
				return errDuplicateDefault
			}
		}

		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to create config: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := *cfg
	out.ID = rec.ID
	return &out, nil
}

// GetConfig loads a configuration snapshot with the token decrypted.
func (s *Store) GetConfig(ctx context.Context, configID uint) (*domain.Config, error) {
	var rec configRecord
	err := s.db.WithContext(ctx).First(&rec, configID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNoConfiguration
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return s.toConfig(&rec, true)
}

// ListConfigs returns configurations visible to the caller: system-wide plus
// their own, or everything for admins. Tokens stay encrypted for listings.
func (s *Store) ListConfigs(ctx context.Context, id domain.Identity) ([]domain.Config, error) {
	query := s.db.WithContext(ctx).Order("id ASC")
	if !id.Admin {
		query = query.Where("user_id IN ?", []uint{0, id.UserID})
	}

	var recs []configRecord
	if err := query.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}

	out := make([]domain.Config, len(recs))
	for i, rec := range recs {
		cfg, err := s.toConfig(&rec, false)
		if err != nil {
			return nil, err
		}
		out[i] = *cfg
	}
	return out, nil
}

// DefaultConfig resolves the configuration used for a new conversation: the
// user's default, else the system-wide default, else any active config.
func (s *Store) DefaultConfig(ctx context.Context, userID uint) (*domain.Config, error) {
	filters := [][]any{
		{"user_id = ? AND is_default = ? AND active = ?", userID, true, true},
		{"user_id = 0 AND is_default = ? AND active = ?", true, true},
		{"active = ?", true},
	}

	for _, filter := range filters {
		var rec configRecord
		err := s.db.WithContext(ctx).
			Where(filter[0], filter[1:]...).
			Order("id ASC").
			First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve default config: %w", err)
		}
		return s.toConfig(&rec, true)
	}

	return nil, domain.ErrNoConfiguration
}

func applyConfigDefaults(cfg *domain.Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.APIToken == "" {
		cfg.APIToken = defaultToken
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxHistory == 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
}

// toConfig converts a record, decrypting the token only when the caller needs
// a usable snapshot.
func (s *Store) toConfig(rec *configRecord, decrypt bool) (*domain.Config, error) {
	cfg := &domain.Config{
		ID:           rec.ID,
		Name:         rec.Name,
		BaseURL:      rec.BaseURL,
		Model:        rec.Model,
		Temperature:  rec.Temperature,
		MaxTokens:    rec.MaxTokens,
		Timeout:      time.Duration(rec.TimeoutMS) * time.Millisecond,
		SystemPrompt: rec.SystemPrompt,
		MaxHistory:   rec.MaxHistory,
		UserID:       rec.UserID,
		IsDefault:    rec.IsDefault,
		Active:       rec.Active,
	}

	if decrypt {
		token, err := s.cipher.Decrypt(rec.APITokenEncrypted)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt token for config %d: %w", rec.ID, err)
		}
		if token == "" {
			token = defaultToken
		}
		cfg.APIToken = token
	}

	return cfg, nil
}
