package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sporehub/marketplace/internal/apperr"
	"github.com/sporehub/marketplace/internal/money"
)

// Intent is the minimal payment-intent contract the engine depends on.
type Intent struct {
	ID           string      `json:"id"`
	ClientSecret string      `json:"client_secret,omitempty"`
	Status       string      `json:"status"`
	Amount       money.Cents `json:"amount"`
}

const StatusSucceeded = "succeeded"

// Gateway is the external payment collaborator. It is always called outside
// the money-moving transaction: intent creation before, verification before.
type Gateway interface {
	CreateIntent(ctx context.Context, amount money.Cents, currency string, metadata map[string]string) (*Intent, error)
	RetrieveIntent(ctx context.Context, id string) (*Intent, error)
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

var _ Gateway = (*Client)(nil)

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type createIntentReq struct {
	Amount   money.Cents       `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (c *Client) CreateIntent(ctx context.Context, amount money.Cents, currency string, metadata map[string]string) (*Intent, error) {
	body, err := json.Marshal(createIntentReq{Amount: amount, Currency: currency, Metadata: metadata})
	if err != nil {
		return nil, fmt.Errorf("marshal intent request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/intents", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) RetrieveIntent(ctx context.Context, id string) (*Intent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/intents/"+id, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Intent, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "payment gateway unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperr.New(apperr.KindNotFound, "payment intent not found")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return nil, apperr.New(apperr.KindInternal, "payment gateway returned %d: %s", resp.StatusCode, string(b))
	}
	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "decode intent response")
	}
	return &intent, nil
}

// VerifyPaid confirms the intent succeeded for exactly the expected amount.
// Any mismatch is a hard validation error, never silently accepted.
func VerifyPaid(ctx context.Context, gw Gateway, intentID string, expected money.Cents) error {
	intent, err := gw.RetrieveIntent(ctx, intentID)
	if err != nil {
		return err
	}
	if intent.Status != StatusSucceeded {
		return apperr.New(apperr.KindValidation, "payment intent %s not succeeded (status %s)", intentID, intent.Status)
	}
	if intent.Amount != expected {
		return apperr.New(apperr.KindValidation,
			"payment amount mismatch: intent %s paid %s, order total %s",
			intentID, intent.Amount.Decimal(), expected.Decimal())
	}
	return nil
}
