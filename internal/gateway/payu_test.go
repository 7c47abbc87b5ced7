package gateway

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/backend/config"
)

func payuTestGateway() *PayU {
	return NewPayU(config.PayUConfig{
		MerchantKey: "merchant-key",
		Salt:        "salt-value",
		BaseURL:     "https://secure.payu.example",
	})
}

func TestPayUCreateOrderFormFields(t *testing.T) {
	gw := payuTestGateway()

	order, err := gw.CreateOrder(context.Background(), OrderRequest{
		OrderID:       "ord_1",
		Amount:        1180,
		Currency:      "INR",
		CustomerName:  "Buyer",
		CustomerEmail: "buyer@example.com",
		Description:   "Go Basics",
		ReturnURL:     "https://api.example.com/payments/callback/payu?order_id=ord_1",
	})
	require.NoError(t, err)

	assert.Equal(t, FlowForm, order.Flow)
	assert.Equal(t, "https://secure.payu.example/_payment", order.FormURL)
	assert.Equal(t, "ord_1", order.ExternalID)
	assert.Equal(t, "1180.00", order.FormFields["amount"])
	assert.Equal(t, order.FormFields["surl"], order.FormFields["furl"])

	expected := gw.requestHash("ord_1", "1180.00", "Go Basics", "Buyer", "buyer@example.com")
	assert.Equal(t, expected, order.FormFields["hash"])
	// sha512 hex
	assert.Len(t, order.FormFields["hash"], 128)
}

func TestPayUCreateOrderMissingConfig(t *testing.T) {
	gw := NewPayU(config.PayUConfig{})

	_, err := gw.CreateOrder(context.Background(), OrderRequest{OrderID: "ord_1", Amount: 100})
	assert.ErrorIs(t, err, ErrMissingConfig)
}

func TestPayUVerifyCompletion(t *testing.T) {
	gw := payuTestGateway()
	fields := map[string]string{
		"status":      "success",
		"txnid":       "ord_1",
		"amount":      "1180.00",
		"productinfo": "Go Basics",
		"firstname":   "Buyer",
		"email":       "buyer@example.com",
	}
	sig := gw.responseHash("success", "ord_1", "1180.00", "Go Basics", "Buyer", "buyer@example.com")

	ok, err := gw.VerifyCompletion(context.Background(), Evidence{Signature: sig, Fields: fields})
	require.NoError(t, err)
	assert.True(t, ok)

	// Signatures compare case-insensitively on the provider side.
	ok, err = gw.VerifyCompletion(context.Background(), Evidence{Signature: strings.ToUpper(sig), Fields: fields})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPayUVerifyTamperedAmount(t *testing.T) {
	gw := payuTestGateway()
	sig := gw.responseHash("success", "ord_1", "1180.00", "Go Basics", "Buyer", "buyer@example.com")
	fields := map[string]string{
		"status":      "success",
		"txnid":       "ord_1",
		"amount":      "1.00",
		"productinfo": "Go Basics",
		"firstname":   "Buyer",
		"email":       "buyer@example.com",
	}

	ok, err := gw.VerifyCompletion(context.Background(), Evidence{Signature: sig, Fields: fields})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPayUVerifyFailureStatus(t *testing.T) {
	gw := payuTestGateway()
	fields := map[string]string{"status": "failure", "txnid": "ord_1"}
	sig := gw.responseHash("failure", "ord_1", "", "", "", "")

	ok, err := gw.VerifyCompletion(context.Background(), Evidence{Signature: sig, Fields: fields})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPayUVerifyMissingEvidence(t *testing.T) {
	gw := payuTestGateway()

	ok, err := gw.VerifyCompletion(context.Background(), Evidence{})
	require.NoError(t, err)
	assert.False(t, ok)
}
