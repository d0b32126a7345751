package sqlite

import (
	"context"
	"errors"
	"time"

	"maru/internal/store/model"

	"gorm.io/gorm"
)

type tradeRepository struct {
	db *gorm.DB
}

func NewTradeRepo(db *gorm.DB) *tradeRepository {
	return &tradeRepository{db: db}
}

func (r *tradeRepository) Insert(ctx context.Context, trade *model.TradeModel) error {
	if trade == nil {
		return errors.New("trade cannot be nil")
	}
	if trade.CreatedAtUnix == 0 {
		trade.CreatedAtUnix = time.Now().Unix()
	}
	return r.db.WithContext(ctx).Create(trade).Error
}

func (r *tradeRepository) ListRecent(ctx context.Context, limit int) ([]model.TradeModel, error) {
	var trades []model.TradeModel
	if limit <= 0 {
		limit = 100
	}
	if err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

func (r *tradeRepository) ListByConfig(ctx context.Context, configID int64, limit int) ([]model.TradeModel, error) {
	var trades []model.TradeModel
	if limit <= 0 {
		limit = 100
	}
	if err := r.db.WithContext(ctx).
		Where("strategy_config_id = ?", configID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}
