package sqlite

import (
	"context"
	"errors"
	"time"

	"maru/internal/store/model"

	"gorm.io/gorm"
)

type logRepo struct {
	db *gorm.DB
}

func NewLogRepo(db *gorm.DB) *logRepo {
	return &logRepo{db: db}
}

func (r *logRepo) Insert(ctx context.Context, entry *model.ExecutionLogModel) error {
	if entry == nil {
		return errors.New("log entry cannot be nil")
	}
	if entry.CreatedAtUnix == 0 {
		entry.CreatedAtUnix = time.Now().Unix()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *logRepo) ListRecent(ctx context.Context, limit int) ([]model.ExecutionLogModel, error) {
	var logs []model.ExecutionLogModel
	if limit <= 0 {
		limit = 100
	}
	if err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *logRepo) ListByConfig(ctx context.Context, configID int64, limit int) ([]model.ExecutionLogModel, error) {
	var logs []model.ExecutionLogModel
	if limit <= 0 {
		limit = 100
	}
	if err := r.db.WithContext(ctx).
		Where("strategy_config_id = ?", configID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
