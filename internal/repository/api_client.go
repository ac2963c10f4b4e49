package repository

import (
	"context"
	"errors"

	"catalogsync/internal/model"

	"gorm.io/gorm"
)

// APIKeyRepository defines API key lookup for machine uploaders.
type APIKeyRepository interface {
	ValidateAPIKey(ctx context.Context, apiKey string) (*model.APIClient, error)
}

type APIClientRepository struct {
	db *gorm.DB
}

func NewAPIClientRepository(db *gorm.DB) *APIClientRepository {
	return &APIClientRepository{db: db}
}

// ValidateAPIKey returns the enabled client owning the key, or nil.
func (r *APIClientRepository) ValidateAPIKey(ctx context.Context, apiKey string) (*model.APIClient, error) {
	var client model.APIClient
	err := r.db.WithContext(ctx).
		Where("api_key = ? AND status = 1", apiKey).
		First(&client).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &client, nil
}
