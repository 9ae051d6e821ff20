package repository

import (
	"context"

	"DocChat/server/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AskLogRepository interface {
	Create(ctx context.Context, entry *model.AskLog) error
}

type askLogRepository struct {
	db *gorm.DB
}

func NewAskLogRepository(db *gorm.DB) AskLogRepository {
	return &askLogRepository{db: db}
}

func (r *askLogRepository) Create(ctx context.Context, entry *model.AskLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}
