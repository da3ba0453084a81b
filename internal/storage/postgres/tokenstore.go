package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

// TokenStore implements broadcast.TokenStore on the notifications_tokens table.
type TokenStore struct {
	db *gorm.DB
}

var _ broadcast.TokenStore = (*TokenStore)(nil)

func NewTokenStore(db *gorm.DB) *TokenStore {
	return &TokenStore{db: db}
}

func (s *TokenStore) ResetNotified(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Model(&tokenModel{}).
		Update("notified", false).Error
	if err != nil {
		return fmt.Errorf("failed to reset notified flags: %w", err)
	}
	return nil
}

func (s *TokenStore) FindTokens(ctx context.Context, query broadcast.TokenQuery) ([]string, error) {
	var tokens []string
	err := s.db.WithContext(ctx).
		Model(&tokenModel{}).
		Where(map[string]any{"isForTest": query.IsForTest, "status": string(query.Status)}).
		Pluck("expoPushToken", &tokens).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select tokens: %w", err)
	}
	return tokens, nil
}

func (s *TokenStore) MarkNotified(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&tokenModel{}).
		Where(map[string]any{"expoPushToken": tokens}).
		Update("notified", true).Error
	if err != nil {
		return fmt.Errorf("failed to mark %d tokens notified: %w", len(tokens), err)
	}
	return nil
}

func (s *TokenStore) MarkInvalid(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&tokenModel{}).
		Where(map[string]any{"expoPushToken": tokens}).
		Updates(map[string]any{
			"notified": false,
			"status":   string(broadcast.StatusDraft),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to demote %d invalid tokens: %w", len(tokens), err)
	}
	return nil
}

// Put upserts a record. Used for seeding local databases and tests.
func (s *TokenStore) Put(ctx context.Context, record broadcast.TokenRecord) error {
	model := tokenModelFromDomain(record)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&model).Error
}

// Get loads a single record by token.
func (s *TokenStore) Get(ctx context.Context, token string) (*broadcast.TokenRecord, error) {
	var model tokenModel
	err := s.db.WithContext(ctx).
		Where(map[string]any{"expoPushToken": token}).
		Take(&model).Error
	if err != nil {
		return nil, err
	}
	record := tokenModelToDomain(model)
	return &record, nil
}
