package repository

import (
	"context"
	"time"

	"storefront/internal/domain/model"
)

const OrderSortOldest = "oldest"

type AdminOrderListFilter struct {
	Page    int
	Limit   int
	Status  string
	BuyerID *int64
	From    *time.Time
	To      *time.Time
	Sort    string
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	// 行ロック付き（トランザクション内で使う）
	FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error)
	// 一覧はpayment列を読まない
	ListByBuyerID(ctx context.Context, buyerID int64, page int, limit int) ([]model.Order, int64, error)
	Create(ctx context.Context, order model.Order) (model.Order, error)
	// statusだけ書き換えて更新後の行を返す
	UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) (model.Order, error)

	//検索（同じキーなら同じ結果を返す）
	FindByIdempotencyKey(ctx context.Context, buyerID int64, key string) (model.Order, bool, error)
	//管理者用の注文一覧
	ListAdmin(ctx context.Context, f AdminOrderListFilter) ([]model.Order, int64, error)
}
