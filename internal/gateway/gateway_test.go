package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/backend/config"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(
		NewRazorpay(config.RazorpayConfig{}),
		NewStripe(config.StripeConfig{}),
	)

	gw, err := r.Get("razorpay")
	require.NoError(t, err)
	assert.Equal(t, "razorpay", gw.Name())

	gw, err = r.Get("STRIPE")
	require.NoError(t, err)
	assert.Equal(t, "stripe", gw.Name())

	_, err = r.Get("square")
	assert.ErrorIs(t, err, ErrUnknownGateway)

	assert.True(t, r.Supported("razorpay"))
	assert.False(t, r.Supported("square"))
	assert.Equal(t, []string{"razorpay", "stripe"}, r.Names())
}

func TestNormalizeMethod(t *testing.T) {
	table := map[string]string{"upi": MethodUPIInternal, "card": MethodCardInternal}

	assert.Equal(t, MethodUPIInternal, normalizeMethod(table, "UPI", MethodCardInternal))
	assert.Equal(t, MethodUPIInternal, normalizeMethod(table, " upi ", MethodCardInternal))
	assert.Equal(t, MethodCardInternal, normalizeMethod(table, "something-new", MethodCardInternal))
}

func razorpaySign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRazorpayVerifyCompletion(t *testing.T) {
	gw := NewRazorpay(config.RazorpayConfig{KeyID: "key", KeySecret: "secret"})

	ev := Evidence{
		OrderID:   "order_123",
		PaymentID: "pay_456",
		Signature: razorpaySign("secret", "order_123", "pay_456"),
	}
	ok, err := gw.VerifyCompletion(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, ok)

	ev.Signature = razorpaySign("wrong-secret", "order_123", "pay_456")
	ok, err = gw.VerifyCompletion(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = gw.VerifyCompletion(context.Background(), Evidence{OrderID: "order_123"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRazorpayVerifyMissingConfig(t *testing.T) {
	gw := NewRazorpay(config.RazorpayConfig{})

	_, err := gw.VerifyCompletion(context.Background(), Evidence{OrderID: "o", PaymentID: "p", Signature: "s"})
	assert.ErrorIs(t, err, ErrMissingConfig)
}

func TestRazorpayCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orders", r.URL.Path)
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"order_ext","amount":118000,"currency":"INR","status":"created"}`))
	}))
	defer srv.Close()

	gw := NewRazorpay(config.RazorpayConfig{KeyID: "key", KeySecret: "secret", BaseURL: srv.URL})
	order, err := gw.CreateOrder(context.Background(), OrderRequest{
		OrderID:  "ord_1",
		Amount:   1180,
		Currency: "INR",
	})
	require.NoError(t, err)
	assert.Equal(t, "order_ext", order.ExternalID)
	assert.Equal(t, FlowRedirect, order.Flow)
	assert.Equal(t, "key", order.KeyID)
}

func TestRazorpayCreateOrderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	gw := NewRazorpay(config.RazorpayConfig{KeyID: "key", KeySecret: "secret", BaseURL: srv.URL})
	_, err := gw.CreateOrder(context.Background(), OrderRequest{OrderID: "ord_1", Amount: 100, Currency: "INR"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRazorpayCreateOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"description":"amount too small"}}`))
	}))
	defer srv.Close()

	gw := NewRazorpay(config.RazorpayConfig{KeyID: "key", KeySecret: "secret", BaseURL: srv.URL})
	_, err := gw.CreateOrder(context.Background(), OrderRequest{OrderID: "ord_1", Amount: 0.01, Currency: "INR"})
	assert.ErrorIs(t, err, ErrRejected)
}
