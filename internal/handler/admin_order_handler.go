package handler

import (
	"context"
	"net/http"

	"storefront/internal/config"
	"storefront/internal/middleware"
	"storefront/internal/repository"
	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
)

type OrderAdmin interface {
	List(ctx context.Context, f repository.AdminOrderListFilter) (usecase.OrderListOutput, error)
	UpdateStatus(ctx context.Context, actorAdminUserID int64, orderID int64, in usecase.AdminUpdateOrderStatusInput) (usecase.OrderOutput, error)
}

type AdminOrderHandler struct {
	uc OrderAdmin
}

func NewAdminOrderHandler(uc OrderAdmin) *AdminOrderHandler {
	return &AdminOrderHandler{uc: uc}
}

type OrderStatusUpdateRequest struct {
	Status string `json:"status"`
}

func (h *AdminOrderHandler) RegisterRoutes(e *echo.Echo, cfg config.Config, userRepo repository.UserRepository) {
	guards := []echo.MiddlewareFunc{middleware.AuthJWT(cfg), middleware.AdminGuard(userRepo)}

	e.GET("/admin/orders", h.list, guards...)
	e.PUT("/order/:id/status", h.updateStatus, guards...)
}

// 既定は新しい順。sort=oldestで逆順
func (h *AdminOrderHandler) list(c echo.Context) error {
	page, ok := queryInt(c, "page", 1)
	if !ok {
		return badRequest(c, "invalid page")
	}
	limit, ok := queryInt(c, "limit", 50)
	if !ok {
		return badRequest(c, "invalid limit")
	}
	buyerID, ok := queryInt64Ptr(c, "buyer_id")
	if !ok {
		return badRequest(c, "invalid buyer_id")
	}
	from, ok := queryTimePtr(c, "from")
	if !ok {
		return badRequest(c, "invalid from")
	}
	to, ok := queryTimePtr(c, "to")
	if !ok {
		return badRequest(c, "invalid to")
	}

	out, err := h.uc.List(c.Request().Context(), repository.AdminOrderListFilter{
		Page:    page,
		Limit:   limit,
		Status:  c.QueryParam("status"),
		BuyerID: buyerID,
		From:    from,
		To:      to,
		Sort:    c.QueryParam("sort"),
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

func (h *AdminOrderHandler) updateStatus(c echo.Context) error {
	// 操作した管理者ID（監査ログ用）
	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	orderID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	var req OrderStatusUpdateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.UpdateStatus(c.Request().Context(), adminID, orderID, usecase.AdminUpdateOrderStatusInput{Status: req.Status})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}
