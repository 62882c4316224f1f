package fulfiller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vesabooks/printapi/internal/config"
)

// Client talks to the print fulfiller's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new fulfiller client
func NewClient(cfg config.FulfillerConfig, logger *zap.Logger) *Client {
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

// OrderRequest is the production request submitted for one batch of items
// sharing a shipping address.
type OrderRequest struct {
	MerchantReference string            `json:"merchantReference"`
	ShippingMethod    string            `json:"shippingMethod"`
	Recipient         Recipient         `json:"recipient"`
	Items             []Item            `json:"items"`
	CallbackURL       string            `json:"callbackUrl"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type Recipient struct {
	Name    string  `json:"name"`
	Address Address `json:"address"`
}

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"townOrCity"`
	State      string `json:"stateOrCounty,omitempty"`
	PostalCode string `json:"postalOrZipCode"`
	Country    string `json:"countryCode"`
}

type Item struct {
	MerchantItemReference string  `json:"merchantItemReference,omitempty"`
	SKU                   string  `json:"sku"`
	Copies                int     `json:"copies"`
	Sizing                string  `json:"sizing,omitempty"`
	Assets                []Asset `json:"assets"`
}

type Asset struct {
	PrintArea string `json:"printArea"`
	URL       string `json:"url"`
}

// OrderResponse is the fulfiller's acknowledgement of a submission.
type OrderResponse struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

// StatusPayload is the fulfiller's order-status shape. The same shape arrives
// bare in webhook callbacks and is returned by GetOrder.
type StatusPayload struct {
	ID                string     `json:"id"`
	Status            Status     `json:"status"`
	Shipments         []Shipment `json:"shipments,omitempty"`
	MerchantReference string     `json:"merchantReference,omitempty"`
	Charges           []Charge   `json:"charges,omitempty"`
}

type Status struct {
	Stage   string            `json:"stage"`
	Details map[string]string `json:"details,omitempty"`
}

type Shipment struct {
	Carrier      Carrier   `json:"carrier"`
	Tracking     Tracking  `json:"tracking"`
	DispatchDate *DateTime `json:"dispatchDate,omitempty"`
}

type Carrier struct {
	Name    string `json:"name"`
	Service string `json:"service,omitempty"`
}

type Tracking struct {
	Number string `json:"number"`
	URL    string `json:"url"`
}

// Charge is the fulfiller's own production cost line; retained in raw
// payloads only.
type Charge struct {
	ID         string `json:"id"`
	TotalCost  string `json:"totalCost,omitempty"`
	ChargeType string `json:"chargeType,omitempty"`
}

// DateTime accepts both RFC3339 and date-only values from the fulfiller.
type DateTime struct {
	time.Time
}

func (d *DateTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t
			return nil
		}
	}
	return fmt.Errorf("unrecognized fulfiller timestamp %q", s)
}

// CreateOrder submits a production request and returns the fulfiller's order id.
func (c *Client) CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	var resp OrderResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders", req, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("fulfiller returned no order id")
	}
	return &resp, nil
}

// GetOrder fetches the current status of a fulfiller order. Used by the
// reconciliation sweep when webhook delivery has gone quiet.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*StatusPayload, error) {
	var resp StatusPayload
	if err := c.do(ctx, http.MethodGet, "/v1/orders/"+orderID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelOrder asks the fulfiller to stop production. Best effort: callers log
// a failure without escalating, the local record is already cancelled.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodPost, "/v1/orders/"+orderID+"/actions/cancel", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fulfiller API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w, body: %s", err, string(respBody))
		}
	}

	return nil
}
