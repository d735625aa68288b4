package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/usecase"

	"github.com/google/uuid"
)

// ローカル開発・テスト用のnonce
const (
	NonceValid             = "fake-valid-nonce"
	NonceProcessorDeclined = "fake-processor-declined-visa-nonce"
	NonceGatewayRejected   = "fake-gateway-rejected-fraud-nonce"
	NonceTransportError    = "fake-transport-error-nonce"
)

// この範囲の金額は拒否される（2000.00〜2999.99）
const (
	declineAmountFrom = 200000
	declineAmountTo   = 300000
)

var ErrSandboxTransport = errors.New("sandbox: connection reset by peer")

// 外部に出ないゲートウェイ。Idempotency-Keyごとに結果を覚える。
type SandboxGateway struct {
	mu      sync.Mutex
	results map[string]model.PaymentResult
	now     func() time.Time
}

var _ usecase.PaymentGateway = (*SandboxGateway)(nil)

func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{
		results: make(map[string]model.PaymentResult),
		now:     time.Now,
	}
}

func (g *SandboxGateway) GenerateClientToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "sandbox_" + uuid.NewString(), nil
}

func (g *SandboxGateway) Sale(ctx context.Context, req usecase.SaleRequest) (model.PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return model.PaymentResult{}, err
	}

	if req.IdempotencyKey != "" {
		g.mu.Lock()
		prev, ok := g.results[req.IdempotencyKey]
		g.mu.Unlock()
		if ok {
			return prev, nil
		}
	}

	if req.PaymentMethodNonce == NonceTransportError {
		return model.PaymentResult{}, ErrSandboxTransport
	}

	res := g.decide(req)

	if req.IdempotencyKey != "" {
		g.mu.Lock()
		g.results[req.IdempotencyKey] = res
		g.mu.Unlock()
	}
	return res, nil
}

func (g *SandboxGateway) decide(req usecase.SaleRequest) model.PaymentResult {
	tx := model.PaymentTransaction{
		ID:          uuid.NewString(),
		Amount:      req.Amount,
		ProcessedAt: g.now().UTC(),
	}

	switch {
	case req.PaymentMethodNonce == NonceProcessorDeclined:
		tx.Status = "processor_declined"
		return model.PaymentResult{Success: false, Message: "Processor Declined", Transaction: tx}
	case req.PaymentMethodNonce == NonceGatewayRejected:
		tx.Status = "gateway_rejected"
		return model.PaymentResult{Success: false, Message: "Gateway Rejected: fraud", Transaction: tx}
	case req.PaymentMethodNonce != NonceValid:
		return model.PaymentResult{Success: false, Message: "Unknown or expired payment_method_nonce."}
	case req.Amount <= 0:
		return model.PaymentResult{Success: false, Message: "Amount must be greater than zero."}
	case req.Amount >= declineAmountFrom && req.Amount < declineAmountTo:
		tx.Status = "processor_declined"
		return model.PaymentResult{Success: false, Message: "Do Not Honor", Transaction: tx}
	}

	if req.SubmitForSettlement {
		tx.Status = "submitted_for_settlement"
	} else {
		tx.Status = "authorized"
	}
	return model.PaymentResult{Success: true, Transaction: tx}
}
