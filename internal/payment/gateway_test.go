package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	const secret = "test-secret"

	t.Run("valid signature accepted", func(t *testing.T) {
		sig := sign(secret, "order_1", "pay_1")
		assert.NoError(t, VerifySignature("order_1", "pay_1", sig, secret))
	})

	t.Run("tampered payment id rejected", func(t *testing.T) {
		sig := sign(secret, "order_1", "pay_1")
		err := VerifySignature("order_1", "pay_2", sig, secret)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("signature for other order rejected", func(t *testing.T) {
		sig := sign(secret, "order_2", "pay_1")
		err := VerifySignature("order_1", "pay_1", sig, secret)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		sig := sign("other-secret", "order_1", "pay_1")
		err := VerifySignature("order_1", "pay_1", sig, secret)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("empty signature rejected", func(t *testing.T) {
		err := VerifySignature("order_1", "pay_1", "", secret)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})
}

func TestClientCreateOrder(t *testing.T) {
	t.Run("sends smallest currency unit with basic auth", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/orders", r.URL.Path)

			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			assert.Equal(t, "key_id", user)
			assert.Equal(t, "key_secret", pass)

			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, float64(55000), body["amount"]) // 550 display units
			assert.Equal(t, "INR", body["currency"])
			assert.Equal(t, "rcpt_1", body["receipt"])

			_ = json.NewEncoder(w).Encode(Order{ID: "order_abc", Amount: 55000, Currency: "INR"})
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "key_id", "key_secret", "")
		order, err := c.CreateOrder(context.Background(), 550, "rcpt_1")
		require.NoError(t, err)
		assert.Equal(t, "order_abc", order.ID)
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "key_id", "key_secret", "INR")
		_, err := c.CreateOrder(context.Background(), 100, "rcpt_2")
		require.Error(t, err)
	})

	t.Run("missing order id is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "key_id", "key_secret", "INR")
		_, err := c.CreateOrder(context.Background(), 100, "rcpt_3")
		require.Error(t, err)
	})
}
