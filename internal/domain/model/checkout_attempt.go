package model

import "time"

type CheckoutAttemptStatus string

const (
	CheckoutAttemptPending   CheckoutAttemptStatus = "PENDING"
	CheckoutAttemptCompleted CheckoutAttemptStatus = "COMPLETED"
)

// Idempotency-Key付きの決済試行。同じキーでの二重決済を防ぐ。
// PENDINGのまま残るのは「決済済み・注文未保存」か、処理中にプロセスが落ちたとき。
type CheckoutAttempt struct {
	ID          int64                 `gorm:"primaryKey;autoIncrement"`
	BuyerID     int64                 `gorm:"not null;uniqueIndex:idx_attempt_buyer_key,priority:1"`
	Key         string                `gorm:"column:idempotency_key;type:varchar(255);not null;uniqueIndex:idx_attempt_buyer_key,priority:2"`
	RequestHash string                `gorm:"type:char(64);not null"`
	Status      CheckoutAttemptStatus `gorm:"type:varchar(20);not null"`
	OrderID     *int64
	// 滞留として通知済みの時刻。通知は一度だけ
	FlaggedAt   *time.Time            `gorm:"index"`
	CreatedAt   time.Time             `gorm:"not null;autoCreateTime"`
	UpdatedAt   time.Time             `gorm:"not null;autoUpdateTime;index"`
}
