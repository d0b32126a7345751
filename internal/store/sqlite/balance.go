package sqlite

import (
	"context"
	"errors"
	"time"

	"maru/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type balanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepo(db *gorm.DB) *balanceRepository {
	return &balanceRepository{db: db}
}

// Upsert 按币种写入持仓行，冲突时整行覆盖。
func (r *balanceRepository) Upsert(ctx context.Context, balance *model.BalanceModel) error {
	if balance == nil {
		return errors.New("balance cannot be nil")
	}
	balance.UpdatedAtUnix = time.Now().Unix()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "coin"}},
		UpdateAll: true,
	}).Save(balance).Error
}

func (r *balanceRepository) FindByCoin(ctx context.Context, coin string) (*model.BalanceModel, error) {
	var balance model.BalanceModel
	err := r.db.WithContext(ctx).Where("coin = ?", coin).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *balanceRepository) ListAll(ctx context.Context) ([]model.BalanceModel, error) {
	var balances []model.BalanceModel
	if err := r.db.WithContext(ctx).
		Order("coin ASC").
		Find(&balances).Error; err != nil {
		return nil, err
	}
	return balances, nil
}
