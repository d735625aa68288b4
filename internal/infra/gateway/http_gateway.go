package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/usecase"

	"github.com/shopspring/decimal"
)

// 金額は小数2桁の文字列でやり取りする
const amountExponent = -2

type HTTPConfig struct {
	BaseURL    string
	MerchantID string
	PublicKey  string
	PrivateKey string
}

// REST型の決済ゲートウェイ
type HTTPGateway struct {
	cfg    HTTPConfig
	client *http.Client
}

var _ usecase.PaymentGateway = (*HTTPGateway)(nil)

func NewHTTPGateway(cfg HTTPConfig, httpClient *http.Client) (*HTTPGateway, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("gateway base URL is required")
	}
	if cfg.MerchantID == "" || cfg.PublicKey == "" || cfg.PrivateKey == "" {
		return nil, errors.New("gateway credentials are required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPGateway{cfg: cfg, client: httpClient}, nil
}

type clientTokenResponse struct {
	ClientToken string `json:"client_token"`
}

type saleRequestBody struct {
	Transaction saleTransaction `json:"transaction"`
}

type saleTransaction struct {
	Type               string      `json:"type"`
	Amount             string      `json:"amount"`
	PaymentMethodNonce string      `json:"payment_method_nonce"`
	Options            saleOptions `json:"options"`
}

type saleOptions struct {
	SubmitForSettlement bool `json:"submit_for_settlement"`
}

type saleResponseBody struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Transaction *struct {
		ID        string    `json:"id"`
		Status    string    `json:"status"`
		Amount    string    `json:"amount"`
		CreatedAt time.Time `json:"created_at"`
	} `json:"transaction"`
}

type errorBody struct {
	Message string `json:"message"`
}

func (g *HTTPGateway) GenerateClientToken(ctx context.Context) (string, error) {
	var out clientTokenResponse
	status, err := g.post(ctx, "/client_token", "", struct{}{}, &out)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("gateway client token: unexpected status %d", status)
	}
	if out.ClientToken == "" {
		return "", errors.New("gateway returned an empty client token")
	}
	return out.ClientToken, nil
}

// 422は拒否（エラーではない）として結果を返す
func (g *HTTPGateway) Sale(ctx context.Context, req usecase.SaleRequest) (model.PaymentResult, error) {
	body := saleRequestBody{Transaction: saleTransaction{
		Type:               "sale",
		Amount:             FormatAmount(req.Amount),
		PaymentMethodNonce: req.PaymentMethodNonce,
		Options:            saleOptions{SubmitForSettlement: req.SubmitForSettlement},
	}}

	var out saleResponseBody
	status, err := g.post(ctx, "/transactions", req.IdempotencyKey, body, &out)
	if err != nil {
		return model.PaymentResult{}, err
	}

	switch {
	case status == http.StatusOK || status == http.StatusCreated || status == http.StatusUnprocessableEntity:
	case status == http.StatusConflict:
		return model.PaymentResult{}, fmt.Errorf("gateway idempotency conflict: %s", fallback(out.Message, "409"))
	default:
		return model.PaymentResult{}, fmt.Errorf("gateway error: %s", fallback(out.Message, http.StatusText(status)))
	}

	res := model.PaymentResult{
		Success: out.Success && status != http.StatusUnprocessableEntity,
		Message: out.Message,
	}
	if out.Transaction != nil {
		amount, err := ParseAmount(out.Transaction.Amount)
		if err != nil {
			return model.PaymentResult{}, fmt.Errorf("gateway returned invalid amount %q: %w", out.Transaction.Amount, err)
		}
		res.Transaction = model.PaymentTransaction{
			ID:          out.Transaction.ID,
			Status:      out.Transaction.Status,
			Amount:      amount,
			ProcessedAt: out.Transaction.CreatedAt,
		}
	}
	if res.Success && res.Transaction.ID == "" {
		return model.PaymentResult{}, errors.New("gateway reported success without a transaction id")
	}
	return res, nil
}

func (g *HTTPGateway) post(ctx context.Context, path string, idempotencyKey string, in interface{}, out interface{}) (int, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("encode gateway request: %w", err)
	}

	url := g.cfg.BaseURL + "/merchants/" + g.cfg.MerchantID + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.SetBasicAuth(g.cfg.PublicKey, g.cfg.PrivateKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		httpReq.Header.Set("Idempotency-Key", key)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("call gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		return resp.StatusCode, fmt.Errorf("gateway error: %s", fallback(eb.Message, resp.Status))
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// 1999 -> "19.99"
func FormatAmount(minor int64) string {
	return decimal.New(minor, amountExponent).StringFixed(2)
}

// "19.99" -> 1999。3桁目以降の端数はエラー
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	minor := d.Shift(-amountExponent)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than 2 decimal places", s)
	}
	return minor.IntPart(), nil
}

func fallback(msg string, def string) string {
	if m := strings.TrimSpace(msg); m != "" {
		return m
	}
	return def
}
