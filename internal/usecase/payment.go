package usecase

import (
	"context"
	"time"

	"storefront/internal/domain/model"
)

// 決済ゲートウェイ。errorは通信障害、Success=falseは拒否。
type PaymentGateway interface {
	GenerateClientToken(ctx context.Context) (string, error)
	Sale(ctx context.Context, req SaleRequest) (model.PaymentResult, error)
}

type SaleRequest struct {
	Amount              int64 // 最小通貨単位
	PaymentMethodNonce  string
	SubmitForSettlement bool
	IdempotencyKey      string
}

// 決済済み・注文未保存の通知先
type ChargeAlerter interface {
	AlertChargedUnrecorded(ctx context.Context, alert ChargeAlert) error
}

type ChargeAlert struct {
	BuyerID        int64     `json:"buyer_id"`
	TransactionID  string    `json:"transaction_id"`
	Amount         int64     `json:"amount"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	AttemptID      int64     `json:"attempt_id,omitempty"`
	Reason         string    `json:"reason"`
	OccurredAt     time.Time `json:"occurred_at"`
}
