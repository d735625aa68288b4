package model

import "time"

type OrderStatus string

const (
	OrderStatusNotProcessed OrderStatus = "Not Processed"
	OrderStatusProcessing   OrderStatus = "Processing"
	OrderStatusShipped      OrderStatus = "Shipped"
	OrderStatusDelivered    OrderStatus = "Delivered"
	OrderStatusCancelled    OrderStatus = "Cancelled"
)

// 定義済みの値と完全一致したものだけ受け付ける（前後の空白も不可）
func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch st := OrderStatus(s); st {
	case OrderStatusNotProcessed, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return st, true
	default:
		return "", false
	}
}

// これ以上変更できない状態か
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusDelivered
}

// ゲートウェイの決済結果。注文作成時に一度だけ保存し、以後は更新しない。
type PaymentResult struct {
	Success     bool               `json:"success"`
	Message     string             `json:"message,omitempty"`
	Transaction PaymentTransaction `json:"transaction"`
}

type PaymentTransaction struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Amount      int64     `json:"amount"`
	ProcessedAt time.Time `json:"processed_at"`
}

type Order struct {
	ID             int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	BuyerID        int64         `gorm:"not null;index;uniqueIndex:idx_orders_buyer_idem,priority:1" json:"buyer_id"`
	Status         OrderStatus   `gorm:"type:varchar(20);not null;index" json:"status"`
	PaymentAmount  int64         `gorm:"not null" json:"payment_amount"`
	Payment        PaymentResult `gorm:"type:jsonb;serializer:json;not null" json:"payment"`
	IdempotencyKey *string       `gorm:"type:varchar(255);uniqueIndex:idx_orders_buyer_idem,priority:2" json:"-"`
	CreatedAt      time.Time     `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// 注文時点の商品スナップショット。productsへの外部キーは張らない。
type OrderItem struct {
	ID                  int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID             int64     `gorm:"not null;index" json:"order_id"`
	ProductID           int64     `gorm:"not null;index" json:"product_id"`
	ProductNameSnapshot string    `gorm:"type:varchar(255);not null" json:"product_name_snapshot"`
	UnitPriceSnapshot   int64     `gorm:"not null" json:"unit_price_snapshot"`
	Quantity            int64     `gorm:"not null" json:"quantity"`
	CreatedAt           time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}
