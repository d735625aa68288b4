package repository

import (
	"context"
	"time"

	"storefront/internal/domain/model"
)

// Idempotency-Keyの確保と解放
type CheckoutAttemptRepository interface {
	// (buyer, key)が既にあればErrDuplicate
	Create(ctx context.Context, attempt model.CheckoutAttempt) (model.CheckoutAttempt, error)
	FindByBuyerAndKey(ctx context.Context, buyerID int64, key string) (model.CheckoutAttempt, error)
	Complete(ctx context.Context, attemptID int64, orderID int64) error
	// 拒否・決済失敗のときにキーを解放する
	Delete(ctx context.Context, attemptID int64) error

	// before より前から動いていない未通知のPENDING。古い順
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]model.CheckoutAttempt, error)
	// PENDINGのまま通知済みにする
	MarkFlagged(ctx context.Context, attemptID int64, at time.Time) error
}
