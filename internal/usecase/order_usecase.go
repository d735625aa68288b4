package usecase

import (
	"context"
	"errors"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"
)

type OrderUsecase struct {
	tx repo.TransactionManager
}

func NewOrderUsecase(tx repo.TransactionManager) *OrderUsecase {
	return &OrderUsecase{tx: tx}
}

type OrderItemOutput struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
}

type OrderOutput struct {
	ID            int64                `json:"id"`
	BuyerID       int64                `json:"buyer_id"`
	Status        model.OrderStatus    `json:"status"`
	PaymentAmount int64                `json:"payment_amount"`
	Payment       *model.PaymentResult `json:"payment,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	Products      []OrderItemOutput    `json:"products"`
}

type OrderListOutput struct {
	Items []OrderOutput `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, buyerID int64, page int, limit int) (OrderListOutput, error) {
	if buyerID <= 0 {
		return OrderListOutput{}, errUnauthenticated()
	}
	if page < 1 {
		return OrderListOutput{}, errValidation("invalid page")
	}
	if limit < 1 || limit > 100 {
		return OrderListOutput{}, errValidation("invalid limit")
	}

	out := OrderListOutput{Items: []OrderOutput{}, Page: page, Limit: limit}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, total, err := r.Orders().ListByBuyerID(ctx, buyerID, page, limit)
		if err != nil {
			return errDB()
		}
		items, err := withItems(ctx, r, orders)
		if err != nil {
			return err
		}
		out.Items = items
		out.Total = total
		return nil
	})
	if err != nil {
		return OrderListOutput{}, err
	}
	return out, nil
}

func (u *OrderUsecase) GetMyOrderDetail(ctx context.Context, buyerID int64, orderID int64) (OrderOutput, error) {
	if buyerID <= 0 {
		return OrderOutput{}, errUnauthenticated()
	}
	if orderID <= 0 {
		return OrderOutput{}, errValidation("invalid id")
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return errNotFound()
		}
		if err != nil {
			return errDB()
		}
		//他人の注文は「存在しない扱い」にする
		if o.BuyerID != buyerID {
			return errNotFound()
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return errDB()
		}

		out = toOrderOutput(o, items, true)
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

// 一覧用。明細は注文ごとに取る
func withItems(ctx context.Context, r repo.TxRepos, orders []model.Order) ([]OrderOutput, error) {
	outs := make([]OrderOutput, 0, len(orders))
	for _, o := range orders {
		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return nil, errDB()
		}
		outs = append(outs, toOrderOutput(o, items, false))
	}
	return outs, nil
}

func toOrderOutput(o model.Order, items []model.OrderItem, withPayment bool) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID: it.ProductID,
			Name:      it.ProductNameSnapshot,
			Price:     it.UnitPriceSnapshot,
			Quantity:  it.Quantity,
		})
	}

	out := OrderOutput{
		ID:            o.ID,
		BuyerID:       o.BuyerID,
		Status:        o.Status,
		PaymentAmount: o.PaymentAmount,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
		Products:      outItems,
	}
	if withPayment {
		p := o.Payment
		out.Payment = &p
	}
	return out
}
