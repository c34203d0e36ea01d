package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/openagora/arena/internal/platform/timeouts"
)

// Client talks to an x402-style payment gateway over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a gateway client for the given base URL.
func NewClient(baseURL, apiKey string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("gateway base url is required")
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeouts.PaymentSettle},
	}, nil
}

type settleRequest struct {
	Recipient   string `json:"recipient"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

type settleResponse struct {
	Paid    bool   `json:"paid"`
	Settled bool   `json:"settled"`
	TxHash  string `json:"tx_hash"`
}

// Settle posts one payment to the gateway. A 402 response carries the
// gateway's payment requirements in the receipt body; it is a valid
// unpaid outcome, not a transport error.
func (c *Client) Settle(ctx context.Context, recipient string, amount decimal.Decimal, description string) (Receipt, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return Receipt{}, fmt.Errorf("recipient is required")
	}
	if amount.Sign() <= 0 {
		return Receipt{}, fmt.Errorf("amount must be positive")
	}

	payload, err := json.Marshal(settleRequest{
		Recipient:   recipient,
		Amount:      amount.String(),
		Description: description,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal settle request: %w", err)
	}

	resp, err := c.post(ctx, "/settle", payload)
	if err != nil {
		return Receipt{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Receipt{}, fmt.Errorf("read settle response: %w", err)
	}

	receipt := Receipt{Status: resp.StatusCode, Body: string(body)}
	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return receipt, nil
	case resp.StatusCode >= 400:
		return receipt, fmt.Errorf("gateway settle failed with status %d", resp.StatusCode)
	}

	var decoded settleResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return receipt, fmt.Errorf("decode settle response: %w", err)
	}
	receipt.Paid = decoded.Paid
	receipt.Settled = decoded.Settled
	receipt.TxHash = decoded.TxHash
	return receipt, nil
}

// TopUpGas asks the gateway to top up a wallet's gas balance.
func (c *Client) TopUpGas(ctx context.Context, wallet string) error {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return fmt.Errorf("wallet is required")
	}

	payload, err := json.Marshal(map[string]string{"wallet": wallet})
	if err != nil {
		return fmt.Errorf("marshal top-up request: %w", err)
	}

	resp, err := c.post(ctx, "/gas/topup", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("gas top-up failed with status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call payment gateway: %w", err)
	}
	return resp, nil
}
