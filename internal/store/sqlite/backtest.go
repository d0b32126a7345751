package sqlite

import (
	"context"
	"errors"
	"time"

	"maru/internal/store/model"

	"gorm.io/gorm"
)

// backtestRunRepository implements the BacktestRunRepository interface.
type backtestRunRepository struct {
	db *gorm.DB
}

// NewBacktestRunRepo creates a new backtestRunRepository.
func NewBacktestRunRepo(db *gorm.DB) *backtestRunRepository {
	return &backtestRunRepository{db: db}
}

func (r *backtestRunRepository) Insert(ctx context.Context, run *model.BacktestRunModel) error {
	if run == nil {
		return errors.New("backtest run cannot be nil")
	}
	now := time.Now().Unix()
	if run.CreatedAtUnix == 0 {
		run.CreatedAtUnix = now
	}
	run.UpdatedAtUnix = now
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *backtestRunRepository) Update(ctx context.Context, run *model.BacktestRunModel) error {
	if run == nil {
		return errors.New("backtest run cannot be nil")
	}
	run.UpdatedAtUnix = time.Now().Unix()
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *backtestRunRepository) SetStatus(ctx context.Context, id, status, errorMessage string) error {
	return r.db.WithContext(ctx).
		Model(&model.BacktestRunModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        status,
			"error_message": errorMessage,
			"updated_at":    time.Now().Unix(),
		}).Error
}

func (r *backtestRunRepository) FindByID(ctx context.Context, id string) (*model.BacktestRunModel, error) {
	var run model.BacktestRunModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *backtestRunRepository) ListRecent(ctx context.Context, limit int) ([]model.BacktestRunModel, error) {
	var runs []model.BacktestRunModel
	if limit <= 0 {
		limit = 50
	}
	if err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// calibrationRepository implements the CalibrationRepository interface.
type calibrationRepository struct {
	db *gorm.DB
}

// NewCalibrationRepo creates a new calibrationRepository.
func NewCalibrationRepo(db *gorm.DB) *calibrationRepository {
	return &calibrationRepository{db: db}
}

func (r *calibrationRepository) Insert(ctx context.Context, run *model.CalibrationRunModel) error {
	if run == nil {
		return errors.New("calibration run cannot be nil")
	}
	now := time.Now().Unix()
	if run.CreatedAtUnix == 0 {
		run.CreatedAtUnix = now
	}
	run.UpdatedAtUnix = now
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *calibrationRepository) Update(ctx context.Context, run *model.CalibrationRunModel) error {
	if run == nil {
		return errors.New("calibration run cannot be nil")
	}
	run.UpdatedAtUnix = time.Now().Unix()
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *calibrationRepository) SetStatus(ctx context.Context, id, status, errorMessage string) error {
	return r.db.WithContext(ctx).
		Model(&model.CalibrationRunModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        status,
			"error_message": errorMessage,
			"updated_at":    time.Now().Unix(),
		}).Error
}

func (r *calibrationRepository) FindByID(ctx context.Context, id string) (*model.CalibrationRunModel, error) {
	var run model.CalibrationRunModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *calibrationRepository) ListRecent(ctx context.Context, limit int) ([]model.CalibrationRunModel, error) {
	var runs []model.CalibrationRunModel
	if limit <= 0 {
		limit = 50
	}
	if err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
