package handler

import (
	"context"
	"net/http"

	"storefront/internal/config"
	"storefront/internal/middleware"
	"storefront/internal/usecase"

	"github.com/labstack/echo/v4"
)

type CheckoutService interface {
	GenerateClientToken(ctx context.Context) (string, error)
	Checkout(ctx context.Context, in usecase.CheckoutInput) (usecase.CheckoutOutput, error)
}

type CheckoutRequest struct {
	Nonce string             `json:"nonce"`
	Cart  []usecase.CartLine `json:"cart"`
}

type ClientTokenResponse struct {
	ClientToken string `json:"client_token"`
}

type PaymentHandler struct {
	uc CheckoutService
}

func NewPaymentHandler(uc CheckoutService) *PaymentHandler {
	return &PaymentHandler{uc: uc}
}

func (h *PaymentHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/payment")
	g.GET("/token", h.token)
	g.POST("/checkout", h.checkout, middleware.AuthJWT(cfg))
}

func (h *PaymentHandler) token(c echo.Context) error {
	tok, err := h.uc.GenerateClientToken(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, ClientTokenResponse{ClientToken: tok})
}

// 新規は201、同じキーの再送は200で保存済みの注文を返す
func (h *PaymentHandler) checkout(c echo.Context) error {
	buyerID, ok := getUserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	var req CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.Checkout(c.Request().Context(), usecase.CheckoutInput{
		BuyerID:        buyerID,
		Nonce:          req.Nonce,
		Cart:           req.Cart,
		IdempotencyKey: c.Request().Header.Get("Idempotency-Key"),
	})
	if err != nil {
		return writeError(c, err)
	}

	if out.Replayed {
		return c.JSON(http.StatusOK, out.Order)
	}
	return c.JSON(http.StatusCreated, out.Order)
}
