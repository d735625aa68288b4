package repository

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"gorm.io/gorm"
)

type CheckoutAttemptGormRepository struct {
	db *gorm.DB
}

func NewCheckoutAttemptGormRepository(db *gorm.DB) *CheckoutAttemptGormRepository {
	return &CheckoutAttemptGormRepository{db: db}
}

// (buyer_id, key)のunique indexで早い者勝ちにする
func (r *CheckoutAttemptGormRepository) Create(ctx context.Context, a model.CheckoutAttempt) (model.CheckoutAttempt, error) {
	if err := r.db.WithContext(ctx).Create(&a).Error; err != nil {
		if isUniqueViolation(err) {
			return model.CheckoutAttempt{}, repo.ErrDuplicate
		}
		return model.CheckoutAttempt{}, fmt.Errorf("create checkout attempt: %w", err)
	}
	return a, nil
}

func (r *CheckoutAttemptGormRepository) FindByBuyerAndKey(ctx context.Context, buyerID int64, key string) (model.CheckoutAttempt, error) {
	var a model.CheckoutAttempt
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? AND idempotency_key = ?", buyerID, key).
		First(&a).Error
	if isNotFound(err) {
		return model.CheckoutAttempt{}, repo.ErrNotFound
	}
	if err != nil {
		return model.CheckoutAttempt{}, fmt.Errorf("find checkout attempt: %w", err)
	}
	return a, nil
}

func (r *CheckoutAttemptGormRepository) Complete(ctx context.Context, attemptID int64, orderID int64) error {
	res := r.db.WithContext(ctx).
		Model(&model.CheckoutAttempt{}).
		Where("id = ? AND status = ?", attemptID, model.CheckoutAttemptPending).
		Updates(map[string]interface{}{
			"status":   model.CheckoutAttemptCompleted,
			"order_id": orderID,
		})
	if res.Error != nil {
		return fmt.Errorf("complete checkout attempt: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// PENDINGのものだけ消す
func (r *CheckoutAttemptGormRepository) Delete(ctx context.Context, attemptID int64) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", attemptID, model.CheckoutAttemptPending).
		Delete(&model.CheckoutAttempt{})
	if res.Error != nil {
		return fmt.Errorf("delete checkout attempt: %w", res.Error)
	}
	return nil
}

func (r *CheckoutAttemptGormRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.CheckoutAttempt, error) {
	var attempts []model.CheckoutAttempt
	err := r.db.WithContext(ctx).
		Where("status = ? AND flagged_at IS NULL AND updated_at < ?", model.CheckoutAttemptPending, before).
		Order("updated_at asc").Order("id asc").
		Limit(limit).
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("list stale checkout attempts: %w", err)
	}
	return attempts, nil
}

// updated_atは動かさない
func (r *CheckoutAttemptGormRepository) MarkFlagged(ctx context.Context, attemptID int64, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&model.CheckoutAttempt{}).
		Where("id = ? AND status = ?", attemptID, model.CheckoutAttemptPending).
		UpdateColumn("flagged_at", at)
	if res.Error != nil {
		return fmt.Errorf("flag checkout attempt: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
