// Package payment integrates with the external payment gateway.  It
// creates gateway orders ahead of payment and verifies the signature
// the gateway attaches to completed payments.  Refund settlement is
// handled entirely on the gateway side and is not modelled here.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrInvalidSignature indicates that a payment callback carried a
// signature that does not match the server-side HMAC over the order
// and payment identifiers.  Callers must treat this as adversarial
// input, never as a soft failure.
var ErrInvalidSignature = errors.New("invalid payment signature")

// Order is the gateway's record of a payment intent.  The ID is
// handed to the client so the eventual payment can be correlated
// back to the booking.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// OrderCreator opens payment orders with the gateway.  Handlers
// depend on this interface so tests can substitute a stub.
type OrderCreator interface {
	CreateOrder(ctx context.Context, amount int64, receipt string) (Order, error)
}

// Client talks to a Razorpay-style REST gateway using basic auth
// with the key id and secret.  Amounts are submitted in the smallest
// currency unit, so display-unit totals are multiplied by 100.
type Client struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Currency  string
	HTTP      *http.Client
}

// NewClient builds a gateway client.  The currency defaults to INR
// and requests time out after ten seconds unless a custom HTTP
// client is set afterwards.
func NewClient(baseURL, keyID, keySecret, currency string) *Client {
	if currency == "" {
		currency = "INR"
	}
	return &Client{
		BaseURL:   baseURL,
		KeyID:     keyID,
		KeySecret: keySecret,
		Currency:  currency,
		HTTP:      &http.Client{Timeout: 10 * time.Second},
	}
}

// CreateOrder opens an order for the given display-unit amount.  A
// non-2xx gateway response is returned as an error; the booking flow
// must not create a booking when order creation fails.
func (c *Client) CreateOrder(ctx context.Context, amount int64, receipt string) (Order, error) {
	payload := map[string]any{
		"amount":   amount * 100, // smallest currency unit
		"currency": c.Currency,
		"receipt":  receipt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Order{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return Order{}, err
	}
	req.SetBasicAuth(c.KeyID, c.KeySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Order{}, fmt.Errorf("gateway order create: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Order{}, fmt.Errorf("gateway order create: unexpected status %d", resp.StatusCode)
	}
	var order Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return Order{}, fmt.Errorf("gateway order create: decode response: %w", err)
	}
	if order.ID == "" {
		return Order{}, errors.New("gateway order create: response missing order id")
	}
	return order, nil
}

// VerifySignature recomputes the expected HMAC-SHA256 signature over
// "orderID|paymentID" with the gateway key secret and compares it to
// the submitted one in constant time.  It returns
// ErrInvalidSignature on mismatch.
func VerifySignature(orderID, paymentID, signature, secret string) error {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
