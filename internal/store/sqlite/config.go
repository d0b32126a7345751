package sqlite

import (
	"context"
	"errors"
	"time"

	"maru/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// configRepository implements the ConfigRepository interface.
type configRepository struct {
	db *gorm.DB
}

func NewConfigRepo(db *gorm.DB) *configRepository {
	return &configRepository{db: db}
}

// Save saves or updates a strategy config, keyed by name.
func (r *configRepository) Save(ctx context.Context, cfg *model.StrategyConfigModel) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	now := time.Now().Unix()
	if cfg.CreatedAtUnix == 0 {
		cfg.CreatedAtUnix = now
	}
	cfg.UpdatedAtUnix = now
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Save(cfg).Error
}

func (r *configRepository) FindByID(ctx context.Context, id int64) (*model.StrategyConfigModel, error) {
	var cfg model.StrategyConfigModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *configRepository) FindByName(ctx context.Context, name string) (*model.StrategyConfigModel, error) {
	var cfg model.StrategyConfigModel
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *configRepository) ListAll(ctx context.Context) ([]model.StrategyConfigModel, error) {
	var configs []model.StrategyConfigModel
	if err := r.db.WithContext(ctx).
		Order("id ASC").
		Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

func (r *configRepository) ListEnabled(ctx context.Context) ([]model.StrategyConfigModel, error) {
	var configs []model.StrategyConfigModel
	if err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("id ASC").
		Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

func (r *configRepository) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	return r.db.WithContext(ctx).
		Model(&model.StrategyConfigModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"enabled":    enabled,
			"updated_at": time.Now().Unix(),
		}).Error
}

// UpdateHighestPrice 只在新价高于已记录值时写入。
func (r *configRepository) UpdateHighestPrice(ctx context.Context, id int64, price float64) error {
	return r.db.WithContext(ctx).
		Model(&model.StrategyConfigModel{}).
		Where("id = ? AND highest_price < ?", id, price).
		Update("highest_price", price).Error
}

func (r *configRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&model.StrategyConfigModel{}).Error
}
