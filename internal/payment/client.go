package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vesabooks/printapi/internal/config"
)

// Client charges captured payment instruments through the processor's REST
// API. It implements Charger.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new payment processor client
func NewClient(cfg config.PaymentConfig, logger *zap.Logger) *Client {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")

	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// chargeResponse is the processor's response body for both success and
// failure. On failure the error object carries the typed classification.
type chargeResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}

func (c *Client) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("charge request has no idempotency key")
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("charge amount must be positive, got %d", req.Amount)
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", req.Currency)
	form.Set("payment_method", req.PaymentMethod)
	form.Set("confirm", "true")
	if req.Description != "" {
		form.Set("description", req.Description)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/charges", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create charge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network failure or timeout: the charge may or may not have gone
		// through. The idempotency key makes a retry safe.
		c.logger.Warn("Charge request failed in transit",
			zap.String("idempotency_key", req.IdempotencyKey), zap.Error(err))
		return &ChargeResult{
			Outcome:     OutcomeTransientlyFailed,
			FailureKind: FailureTransient,
			Message:     err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ChargeResult{
			Outcome:     OutcomeTransientlyFailed,
			FailureKind: FailureTransient,
			Message:     fmt.Sprintf("failed to read charge response: %v", err),
		}, nil
	}

	var parsed chargeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logger.Error("Unparseable charge response",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return &ChargeResult{
			Outcome:     OutcomeTransientlyFailed,
			FailureKind: FailureTransient,
			Message:     fmt.Sprintf("unparseable response (status %d)", resp.StatusCode),
		}, nil
	}

	return c.classify(resp.StatusCode, &parsed), nil
}

// classify maps the processor's response onto the typed outcome. Permanent
// failures are only those the processor explicitly attributes to the payment
// instrument; everything else is worth retrying.
func (c *Client) classify(statusCode int, resp *chargeResponse) *ChargeResult {
	if statusCode >= 200 && statusCode < 300 && resp.Status == "succeeded" {
		return &ChargeResult{
			Outcome:          OutcomeSucceeded,
			PaymentReference: resp.ID,
		}
	}

	if resp.Error != nil {
		switch resp.Error.Type {
		case "card_error":
			kind := FailureCardDeclined
			switch resp.Error.DeclineCode {
			case "insufficient_funds":
				kind = FailureInsufficientFunds
			}
			if resp.Error.Code == "payment_method_invalid" || resp.Error.Code == "payment_method_unactivated" {
				kind = FailureInvalidPaymentMethod
			}
			return &ChargeResult{
				Outcome:     OutcomePermanentlyFailed,
				FailureKind: kind,
				Message:     resp.Error.Message,
			}
		case "invalid_request_error":
			if resp.Error.Code == "payment_method_invalid" {
				return &ChargeResult{
					Outcome:     OutcomePermanentlyFailed,
					FailureKind: FailureInvalidPaymentMethod,
					Message:     resp.Error.Message,
				}
			}
		case "idempotency_error":
			// A genuinely concurrent duplicate: the original request is still
			// in flight. Retry later; the key guarantees a single real charge.
			return &ChargeResult{
				Outcome:     OutcomeTransientlyFailed,
				FailureKind: FailureTransient,
				Message:     resp.Error.Message,
			}
		}
	}

	return &ChargeResult{
		Outcome:     OutcomeTransientlyFailed,
		FailureKind: FailureTransient,
		Message:     fmt.Sprintf("processor status %d", statusCode),
	}
}
