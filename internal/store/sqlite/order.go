package sqlite

import (
	"context"
	"errors"
	"time"

	"maru/internal/store/model"

	"gorm.io/gorm"
)

// orderRepository implements the OrderRepository interface.
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepo creates a new orderRepo.
func NewOrderRepo(db *gorm.DB) *orderRepository {
	return &orderRepository{db: db}
}

// Save saves or updates an order.
func (r *orderRepository) Save(ctx context.Context, order *model.OrderModel) error {
	if order == nil {
		return errors.New("order cannot be nil")
	}
	if order.CreatedAtUnix == 0 {
		order.CreatedAtUnix = time.Now().Unix()
	}
	return r.db.WithContext(ctx).Save(order).Error
}

// FindByID finds an order by primary key.
func (r *orderRepository) FindByID(ctx context.Context, id int64) (*model.OrderModel, error) {
	var order model.OrderModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListRecent lists recent orders.
func (r *orderRepository) ListRecent(ctx context.Context, limit int) ([]model.OrderModel, error) {
	var orders []model.OrderModel
	if limit <= 0 {
		limit = 100
	}
	if err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *orderRepository) ListByConfig(ctx context.Context, configID int64, limit int) ([]model.OrderModel, error) {
	var orders []model.OrderModel
	if limit <= 0 {
		limit = 100
	}
	if err := r.db.WithContext(ctx).
		Where("strategy_config_id = ?", configID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// SumCompletedBuyTotal sums Order.total over completed buys for one config.
func (r *orderRepository) SumCompletedBuyTotal(ctx context.Context, configID int64) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).
		Model(&model.OrderModel{}).
		Where("strategy_config_id = ? AND side = ? AND status = ?",
			configID, model.SideBuy, model.OrderStatusCompleted).
		Select("COALESCE(SUM(total), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
