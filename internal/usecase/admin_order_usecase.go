package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"go.uber.org/zap"
)

type AdminOrderUsecase struct {
	tx     repo.TransactionManager
	logger *zap.Logger
}

func NewAdminOrderUsecase(tx repo.TransactionManager, logger *zap.Logger) *AdminOrderUsecase {
	return &AdminOrderUsecase{tx: tx, logger: logger.With(zap.String("component", "admin_order"))}
}

type AdminUpdateOrderStatusInput struct {
	Status string
}

// 注文一覧（既定は新しい順）
func (u *AdminOrderUsecase) List(ctx context.Context, f repo.AdminOrderListFilter) (OrderListOutput, error) {
	if f.Page < 1 {
		return OrderListOutput{}, errValidation("invalid page")
	}
	if f.Limit < 1 || f.Limit > 100 {
		return OrderListOutput{}, errValidation("invalid limit")
	}
	if f.Status != "" {
		if _, ok := model.ParseOrderStatus(f.Status); !ok {
			return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, CodeInvalidStatus, "invalid status")
		}
	}
	switch f.Sort {
	case "", "newest", repo.OrderSortOldest:
	default:
		return OrderListOutput{}, errValidation("invalid sort")
	}

	out := OrderListOutput{Items: []OrderOutput{}, Page: f.Page, Limit: f.Limit}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, total, err := r.Orders().ListAdmin(ctx, f)
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

// ステータス更新。Cancelledへの変更なら在庫を戻す
func (u *AdminOrderUsecase) UpdateStatus(ctx context.Context, actorAdminUserID int64, orderID int64, in AdminUpdateOrderStatusInput) (OrderOutput, error) {
	if actorAdminUserID <= 0 {
		return OrderOutput{}, errUnauthenticated()
	}
	if orderID <= 0 {
		return OrderOutput{}, errValidation("invalid id")
	}

	// 列挙外はトランザクションを開かずに返す
	newStatus, ok := model.ParseOrderStatus(in.Status)
	if !ok {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, CodeInvalidStatus, fmt.Sprintf("invalid status %q", in.Status))
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return errNotFound()
		}
		if err != nil {
			return errDB()
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return errDB()
		}

		// すでに同じなら何もしない
		if o.Status == newStatus {
			out = toOrderOutput(o, items, true)
			return nil
		}
		// 終端ガード
		if o.Status.IsTerminal() {
			return NewHTTPError(http.StatusConflict, CodeInvalidTransition, fmt.Sprintf("cannot change %s order", o.Status))
		}

		if newStatus == model.OrderStatusCancelled {
			for _, it := range items {
				if err := r.Inventory().IncreaseStock(ctx, it.ProductID, it.Quantity); err != nil {
					// 商品が消えていても注文のキャンセルは通す
					if errors.Is(err, repo.ErrNotFound) {
						u.logger.Warn("restock skipped, product missing",
							zap.Int64("order_id", orderID), zap.Int64("product_id", it.ProductID))
						continue
					}
					return errDB()
				}
			}
		}

		updated, err := r.Orders().UpdateStatus(ctx, orderID, newStatus)
		if errors.Is(err, repo.ErrNotFound) {
			return errNotFound()
		}
		if err != nil {
			return errDB()
		}

		//監査ログ（UPDATE_ORDER_STATUS）
		beforeJSON, _ := json.Marshal(map[string]model.OrderStatus{"status": o.Status})
		afterJSON, _ := json.Marshal(map[string]model.OrderStatus{"status": updated.Status})
		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actorAdminUserID,
			Action:       model.AuditActionUpdateOrderStatus,
			ResourceType: model.AuditResourceOrder,
			ResourceID:   orderID,
			BeforeJSON:   string(beforeJSON),
			AfterJSON:    string(afterJSON),
			CreatedAt:    time.Now(),
		}); err != nil {
			return errDB()
		}

		msg, err := newOutboxMessage(model.EventOrderStatusChanged, orderID, OrderStatusChangedEvent{
			OrderID:    orderID,
			BuyerID:    updated.BuyerID,
			From:       o.Status,
			To:         updated.Status,
			ActorID:    actorAdminUserID,
			OccurredAt: updated.UpdatedAt,
		})
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, CodeInternal, "internal error")
		}
		if err := r.Outbox().Create(ctx, msg); err != nil {
			return errDB()
		}

		out = toOrderOutput(updated, items, true)
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}

	u.logger.Info("order status updated",
		zap.Int64("order_id", orderID),
		zap.Int64("actor_id", actorAdminUserID),
		zap.String("status", string(out.Status)))
	return out, nil
}
