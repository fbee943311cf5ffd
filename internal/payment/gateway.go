// Package payment talks to the external card processor.
package payment

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

	"github.com/shopspring/decimal"
)

var ErrGatewayUnavailable = errors.New("payment gateway not configured")

type IntentRequest struct {
	PurchaseID  string
	WorkspaceID string
	Amount      decimal.Decimal
	// IdempotencyKey makes retried intent creation return the same intent.
	IdempotencyKey string
}

type Intent struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
}

// Gateway opens payment intents for card purchases.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
}

type HTTPGateway struct {
	baseURL  string
	apiKey   string
	currency string
	client   *http.Client
}

func NewHTTPGateway(baseURL, apiKey, currency string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if currency == "" {
		currency = "usd"
	}
	return &HTTPGateway{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		currency: currency,
		client:   &http.Client{Timeout: timeout},
	}
}

type intentBody struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

// AmountInCents converts a decimal dollar amount to minor units, rounding
// half up.
func AmountInCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func (g *HTTPGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if g.baseURL == "" {
		return nil, ErrGatewayUnavailable
	}
	body, err := json.Marshal(intentBody{
		Amount:   AmountInCents(req.Amount),
		Currency: g.currency,
		Metadata: map[string]string{
			"purchase_id":  req.PurchaseID,
			"workspace_id": req.WorkspaceID,
		},
	})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/payment_intents", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("create payment intent: status %d", resp.StatusCode)
	}
	var intent Intent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	if intent.ID == "" {
		return nil, errors.New("payment intent response missing id")
	}
	return &intent, nil
}
