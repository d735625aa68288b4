package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/metrics"
	repo "storefront/internal/repository"

	"go.uber.org/zap"
)

const (
	outcomeOK       = "OK"
	outcomeReplayed = "REPLAYED"

	maxIdempotencyKeyLen = 255
)

// リクエストで受け取るカート1行。価格は照合にだけ使う。
type CartLine struct {
	ProductID int64 `json:"product_id"`
	Price     int64 `json:"price"`
	Quantity  int64 `json:"quantity"`
}

type CheckoutInput struct {
	BuyerID        int64
	Nonce          string
	Cart           []CartLine
	IdempotencyKey string
}

type CheckoutOutput struct {
	Order OrderOutput
	// 同じIdempotency-Keyで保存済みの注文を返したとき
	Replayed bool
}

type CheckoutUsecase struct {
	tx             repo.TransactionManager
	products       repo.ProductRepository
	attempts       repo.CheckoutAttemptRepository
	gateway        PaymentGateway
	alerter        ChargeAlerter
	metrics        *metrics.Metrics
	logger         *zap.Logger
	gatewayTimeout time.Duration
}

func NewCheckoutUsecase(
	tx repo.TransactionManager,
	products repo.ProductRepository,
	attempts repo.CheckoutAttemptRepository,
	gateway PaymentGateway,
	alerter ChargeAlerter,
	m *metrics.Metrics,
	logger *zap.Logger,
	gatewayTimeout time.Duration,
) *CheckoutUsecase {
	return &CheckoutUsecase{
		tx:             tx,
		products:       products,
		attempts:       attempts,
		gateway:        gateway,
		alerter:        alerter,
		metrics:        m,
		logger:         logger.With(zap.String("component", "checkout")),
		gatewayTimeout: gatewayTimeout,
	}
}

// クライアントSDK用のトークン
func (u *CheckoutUsecase) GenerateClientToken(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, u.gatewayTimeout)
	defer cancel()

	start := time.Now()
	token, err := u.gateway.GenerateClientToken(ctx)
	u.metrics.ObserveGateway("client_token", err == nil, time.Since(start))
	if err != nil {
		u.logger.Warn("client token generation failed", zap.Error(err))
		return "", NewHTTPError(http.StatusBadGateway, CodeGatewayError, gatewayErrorMessage(err))
	}
	return token, nil
}

// 検証 → 在庫確保 → 決済 → 注文保存
func (u *CheckoutUsecase) Checkout(ctx context.Context, in CheckoutInput) (out CheckoutOutput, err error) {
	defer func() {
		u.metrics.CheckoutOutcome(outcomeOf(out, err))
	}()

	if in.BuyerID <= 0 {
		return CheckoutOutput{}, NewHTTPError(http.StatusInternalServerError, CodeInternal, "missing buyer identity")
	}
	nonce := strings.TrimSpace(in.Nonce)
	if nonce == "" {
		return CheckoutOutput{}, errValidation("Payment nonce is required")
	}
	if len(in.Cart) == 0 {
		return CheckoutOutput{}, errValidation("Cart is required and cannot be empty")
	}
	lines, err := normalizeCart(in.Cart)
	if err != nil {
		return CheckoutOutput{}, err
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) > maxIdempotencyKeyLen {
		return CheckoutOutput{}, errValidation("Idempotency-Key is too long")
	}

	// キーの確保。保存済みならそれを返す
	var attempt *model.CheckoutAttempt
	if key != "" {
		a, replay, err := u.claim(ctx, in.BuyerID, key, fingerprint(nonce, lines))
		if err != nil {
			return CheckoutOutput{}, err
		}
		if replay != nil {
			return CheckoutOutput{Order: *replay, Replayed: true}, nil
		}
		attempt = &a
	}

	items, total, err := u.reconcile(ctx, lines)
	if err != nil {
		u.releaseClaim(ctx, attempt)
		return CheckoutOutput{}, err
	}

	if err := u.reserve(ctx, lines); err != nil {
		u.releaseClaim(ctx, attempt)
		return CheckoutOutput{}, err
	}

	result, err := u.sale(ctx, SaleRequest{
		Amount:              total,
		PaymentMethodNonce:  nonce,
		SubmitForSettlement: true,
		IdempotencyKey:      key,
	})
	if err != nil {
		u.releaseStock(ctx, lines)
		u.releaseClaim(ctx, attempt)
		return CheckoutOutput{}, err
	}

	// ここから先は課金済み。クライアントが切断しても保存をやめない
	persistCtx := context.WithoutCancel(ctx)

	amount := result.Transaction.Amount
	if amount <= 0 {
		amount = total
	}
	order := model.Order{
		BuyerID:       in.BuyerID,
		Status:        model.OrderStatusNotProcessed,
		PaymentAmount: amount,
		Payment:       result,
	}
	if key != "" {
		order.IdempotencyKey = &key
	}

	created, err := u.persist(persistCtx, order, items, attempt)
	if err != nil {
		return CheckoutOutput{}, u.escalate(persistCtx, order, key, err)
	}

	u.logger.Info("order placed",
		zap.Int64("order_id", created.ID),
		zap.Int64("buyer_id", created.BuyerID),
		zap.String("transaction_id", result.Transaction.ID),
		zap.Int64("amount", created.PaymentAmount))

	return CheckoutOutput{Order: toOrderOutput(created, items, true)}, nil
}

// 数量0は1として扱う
func normalizeCart(cart []CartLine) ([]CartLine, error) {
	lines := make([]CartLine, 0, len(cart))
	for i, l := range cart {
		if l.ProductID <= 0 {
			return nil, errValidation(fmt.Sprintf("cart[%d]: product_id is required", i))
		}
		if l.Quantity < 0 {
			return nil, errValidation(fmt.Sprintf("cart[%d]: quantity must be >= 0", i))
		}
		if l.Price < 0 {
			return nil, errValidation(fmt.Sprintf("cart[%d]: price must be >= 0", i))
		}
		if l.Quantity == 0 {
			l.Quantity = 1
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// nonceとカートのSHA-256
func fingerprint(nonce string, lines []CartLine) string {
	b, _ := json.Marshal(struct {
		Nonce string     `json:"nonce"`
		Cart  []CartLine `json:"cart"`
	}{nonce, lines})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (u *CheckoutUsecase) claim(ctx context.Context, buyerID int64, key string, hash string) (model.CheckoutAttempt, *OrderOutput, error) {
	a, err := u.attempts.Create(ctx, model.CheckoutAttempt{
		BuyerID:     buyerID,
		Key:         key,
		RequestHash: hash,
		Status:      model.CheckoutAttemptPending,
	})
	if err == nil {
		return a, nil, nil
	}
	if !errors.Is(err, repo.ErrDuplicate) {
		u.logger.Error("claim idempotency key failed", zap.Int64("buyer_id", buyerID), zap.Error(err))
		return model.CheckoutAttempt{}, nil, errDB()
	}

	existing, err := u.attempts.FindByBuyerAndKey(ctx, buyerID, key)
	if errors.Is(err, repo.ErrNotFound) {
		// 直前に解放された
		return model.CheckoutAttempt{}, nil, NewHTTPError(http.StatusConflict, CodeCheckoutInProgress, "a checkout with this Idempotency-Key is in progress")
	}
	if err != nil {
		return model.CheckoutAttempt{}, nil, errDB()
	}
	if existing.RequestHash != hash {
		return model.CheckoutAttempt{}, nil, NewHTTPError(http.StatusConflict, CodeIdempotencyConflict, "Idempotency-Key was already used with a different request")
	}
	if existing.Status != model.CheckoutAttemptCompleted || existing.OrderID == nil {
		return model.CheckoutAttempt{}, nil, NewHTTPError(http.StatusConflict, CodeCheckoutInProgress, "a checkout with this Idempotency-Key is in progress")
	}

	var replay OrderOutput
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, *existing.OrderID)
		if err != nil {
			return errDB()
		}
		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return errDB()
		}
		replay = toOrderOutput(o, items, true)
		return nil
	})
	if err != nil {
		return model.CheckoutAttempt{}, nil, err
	}
	return model.CheckoutAttempt{}, &replay, nil
}

func (u *CheckoutUsecase) releaseClaim(ctx context.Context, attempt *model.CheckoutAttempt) {
	if attempt == nil {
		return
	}
	if err := u.attempts.Delete(context.WithoutCancel(ctx), attempt.ID); err != nil {
		u.logger.Error("release idempotency key failed",
			zap.Int64("attempt_id", attempt.ID),
			zap.String("idempotency_key", attempt.Key),
			zap.Error(err))
	}
}

// カタログと照合して注文明細のスナップショットを作る
func (u *CheckoutUsecase) reconcile(ctx context.Context, lines []CartLine) ([]model.OrderItem, int64, error) {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	catalog, err := u.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, 0, errDB()
	}

	items := make([]model.OrderItem, 0, len(lines))
	var total int64

	for _, l := range lines {
		p, ok := catalog[l.ProductID]
		if !ok || !p.IsActive {
			return nil, 0, NewHTTPError(http.StatusNotFound, CodeNotFound, fmt.Sprintf("product %d not found", l.ProductID))
		}
		if p.Price != l.Price {
			return nil, 0, NewHTTPError(http.StatusConflict, CodePriceMismatch, fmt.Sprintf("price of product %d has changed", l.ProductID))
		}
		if l.Quantity > p.Stock {
			return nil, 0, NewHTTPError(http.StatusConflict, CodeInsufficientStock, fmt.Sprintf("insufficient stock for product %d", l.ProductID))
		}

		items = append(items, model.OrderItem{
			ProductID:           p.ID,
			ProductNameSnapshot: p.Name,
			UnitPriceSnapshot:   p.Price,
			Quantity:            l.Quantity,
		})
		next, ok := addLineTotal(total, p.Price, l.Quantity)
		if !ok {
			return nil, 0, errValidation("cart total is too large")
		}
		total = next
	}
	return items, total, nil
}

// total + price*qty。int64を超えるならfalse
func addLineTotal(total int64, price int64, qty int64) (int64, bool) {
	if price < 0 || qty < 0 || total < 0 {
		return 0, false
	}
	if price != 0 && qty > math.MaxInt64/price {
		return 0, false
	}
	line := price * qty
	if total > math.MaxInt64-line {
		return 0, false
	}
	return total + line, true
}

// 在庫をまとめて確保する。1行でも足りなければ全部戻す
func (u *CheckoutUsecase) reserve(ctx context.Context, lines []CartLine) error {
	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		for _, l := range byProductID(lines) {
			ok, err := r.Inventory().DecreaseStockIfEnough(ctx, l.ProductID, l.Quantity)
			if err != nil {
				return errDB()
			}
			if !ok {
				return NewHTTPError(http.StatusConflict, CodeInsufficientStock, fmt.Sprintf("insufficient stock for product %d", l.ProductID))
			}
		}
		return nil
	})
}

func (u *CheckoutUsecase) releaseStock(ctx context.Context, lines []CartLine) {
	ctx = context.WithoutCancel(ctx)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		for _, l := range byProductID(lines) {
			if err := r.Inventory().IncreaseStock(ctx, l.ProductID, l.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		u.logger.Error("release reserved stock failed", zap.Any("cart", lines), zap.Error(err))
	}
}

// 行ロックの順序を揃える
func byProductID(lines []CartLine) []CartLine {
	sorted := make([]CartLine, len(lines))
	copy(sorted, lines)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })
	return sorted
}

// ゲートウェイ呼び出し。panicはINTERNAL_ERRORにする
func (u *CheckoutUsecase) sale(ctx context.Context, req SaleRequest) (res model.PaymentResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, u.gatewayTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			u.logger.Error("payment gateway panicked", zap.Any("panic", p), zap.Int64("amount", req.Amount))
			res = model.PaymentResult{}
			err = NewHTTPError(http.StatusInternalServerError, CodeInternal, "payment processing failed")
		}
		u.metrics.ObserveGateway("sale", err == nil, time.Since(start))
	}()

	res, gwErr := u.gateway.Sale(ctx, req)
	if gwErr != nil {
		u.logger.Warn("payment gateway error", zap.Int64("amount", req.Amount), zap.Error(gwErr))
		return model.PaymentResult{}, NewHTTPError(http.StatusBadGateway, CodeGatewayError, gatewayErrorMessage(gwErr))
	}
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "payment was declined"
		}
		u.logger.Info("payment declined", zap.Int64("amount", req.Amount), zap.String("message", msg))
		return res, NewHTTPError(http.StatusPaymentRequired, CodeGatewayError, msg)
	}
	return res, nil
}

func gatewayErrorMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "payment gateway timed out"
	}
	return err.Error()
}

// 注文・明細・outbox・attempt完了を1トランザクションで
func (u *CheckoutUsecase) persist(ctx context.Context, order model.Order, items []model.OrderItem, attempt *model.CheckoutAttempt) (model.Order, error) {
	var created model.Order
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().Create(ctx, order)
		if err != nil {
			return err
		}
		if err := r.OrderItems().CreateBulk(ctx, o.ID, items); err != nil {
			return err
		}

		event := OrderCreatedEvent{
			OrderID:       o.ID,
			BuyerID:       o.BuyerID,
			Status:        o.Status,
			PaymentAmount: o.PaymentAmount,
			TransactionID: o.Payment.Transaction.ID,
			Items:         toOrderOutput(o, items, false).Products,
			OccurredAt:    o.CreatedAt,
		}
		msg, err := newOutboxMessage(model.EventOrderCreated, o.ID, event)
		if err != nil {
			return err
		}
		if err := r.Outbox().Create(ctx, msg); err != nil {
			return err
		}

		if attempt != nil {
			if err := r.CheckoutAttempts().Complete(ctx, attempt.ID, o.ID); err != nil {
				return err
			}
		}
		created = o
		return nil
	})
	return created, err
}

// 決済済み・注文未保存。握りつぶさずに全経路へ出す
func (u *CheckoutUsecase) escalate(ctx context.Context, order model.Order, key string, cause error) error {
	u.logger.Error("CHARGED BUT UNRECORDED: payment captured but order was not persisted",
		zap.Int64("buyer_id", order.BuyerID),
		zap.String("transaction_id", order.Payment.Transaction.ID),
		zap.Int64("amount", order.PaymentAmount),
		zap.String("idempotency_key", key),
		zap.Error(cause))
	u.metrics.ChargedButUnrecorded()

	if u.alerter != nil {
		alert := ChargeAlert{
			BuyerID:        order.BuyerID,
			TransactionID:  order.Payment.Transaction.ID,
			Amount:         order.PaymentAmount,
			IdempotencyKey: key,
			Reason:         cause.Error(),
			OccurredAt:     time.Now().UTC(),
		}
		if err := u.alerter.AlertChargedUnrecorded(ctx, alert); err != nil {
			u.logger.Error("publish charge alert failed",
				zap.String("transaction_id", alert.TransactionID),
				zap.Error(err))
		}
	}

	return NewHTTPError(http.StatusInternalServerError, CodeInternal,
		"payment was captured but the order could not be recorded; it will be reconciled")
}

func outcomeOf(out CheckoutOutput, err error) string {
	if err == nil {
		if out.Replayed {
			return outcomeReplayed
		}
		return outcomeOK
	}
	if he, ok := AsHTTPError(err); ok {
		return he.Code
	}
	return CodeInternal
}
