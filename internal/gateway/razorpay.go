package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"

	"github.com/learnhub/backend/config"
)

// Razorpay is the cards/wallet redirect-style gateway. Orders are created
// over REST; completion evidence is an HMAC-SHA256 signature over
// "orderID|paymentID" verified locally without a network call.
type Razorpay struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
}

var razorpayMethods = map[string]string{
	"card":          MethodCardInternal,
	"upi":           MethodUPIInternal,
	"netbanking":    MethodNetbankingInternal,
	"wallet":        MethodWalletInternal,
	"emi":           MethodEMIInternal,
	"bank_transfer": MethodBankTransferInternal,
}

// NewRazorpay creates the Razorpay adapter.
func NewRazorpay(cfg config.RazorpayConfig) *Razorpay {
	return &Razorpay{
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		baseURL:   cfg.BaseURL,
		client:    &http.Client{},
	}
}

// Name returns "razorpay".
func (r *Razorpay) Name() string { return "razorpay" }

type razorpayOrderResp struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// CreateOrder creates a provider order; amount is sent in minor units.
func (r *Razorpay) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if r.keyID == "" || r.keySecret == "" {
		return nil, fmt.Errorf("%w: razorpay", ErrMissingConfig)
	}
	payload := map[string]interface{}{
		"amount":   int64(math.Round(req.Amount * 100)),
		"currency": req.Currency,
		"receipt":  req.OrderID,
		"notes": map[string]string{
			"customer_id": req.CustomerID,
			"description": req.Description,
		},
	}
	httpReq, err := newJSONRequest(http.MethodPost, r.baseURL+"/v1/orders", payload)
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(r.keyID, r.keySecret)

	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()
	var resp razorpayOrderResp
	raw, err := doJSON(ctx, r.client, r.Name(), "create_order", httpReq, &resp)
	if err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("%w: razorpay create_order: empty order id", ErrRejected)
	}
	return &Order{
		Gateway:    r.Name(),
		ExternalID: resp.ID,
		Flow:       FlowRedirect,
		KeyID:      r.keyID,
		Raw:        raw,
	}, nil
}

// VerifyCompletion checks the callback signature locally:
// HMAC-SHA256(orderID|paymentID, keySecret) must equal the supplied signature.
// Ambiguous evidence yields (false, nil), never an error.
func (r *Razorpay) VerifyCompletion(_ context.Context, ev Evidence) (bool, error) {
	if r.keySecret == "" {
		return false, fmt.Errorf("%w: razorpay", ErrMissingConfig)
	}
	if ev.OrderID == "" || ev.PaymentID == "" || ev.Signature == "" {
		return false, nil
	}
	mac := hmac.New(sha256.New, []byte(r.keySecret))
	mac.Write([]byte(ev.OrderID + "|" + ev.PaymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(ev.Signature)), nil
}

type razorpayPaymentResp struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Method   string `json:"method"`
}

// FetchSettledDetails retrieves the captured payment for an order and
// normalizes its method.
func (r *Razorpay) FetchSettledDetails(ctx context.Context, externalID string) (*PaymentInfo, error) {
	httpReq, err := http.NewRequest(http.MethodGet, r.baseURL+"/v1/orders/"+externalID+"/payments", nil)
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(r.keyID, r.keySecret)

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	var resp struct {
		Items []razorpayPaymentResp `json:"items"`
	}
	raw, err := doJSON(ctx, r.client, r.Name(), "fetch_payment", httpReq, &resp)
	if err != nil {
		return nil, err
	}
	// Prefer the captured payment; fall back to the first attempt.
	var p *razorpayPaymentResp
	for i := range resp.Items {
		if resp.Items[i].Status == "captured" {
			p = &resp.Items[i]
			break
		}
	}
	if p == nil && len(resp.Items) > 0 {
		p = &resp.Items[0]
	}
	if p == nil {
		return nil, fmt.Errorf("%w: razorpay fetch_payment: no payments for order %s", ErrRejected, externalID)
	}
	return &PaymentInfo{
		TransactionID: p.ID,
		Method:        normalizeMethod(razorpayMethods, p.Method, MethodCardInternal),
		RawMethod:     p.Method,
		Amount:        float64(p.Amount) / 100,
		Currency:      p.Currency,
		Status:        p.Status,
		Raw:           raw,
	}, nil
}

// CreateRefund refunds a captured payment by its payment id.
func (r *Razorpay) CreateRefund(ctx context.Context, ref RefundRef, amount float64, note string) (*RefundInfo, error) {
	payload := map[string]interface{}{
		"amount": int64(math.Round(amount * 100)),
		"notes":  map[string]string{"reason": note},
	}
	httpReq, err := newJSONRequest(http.MethodPost, r.baseURL+"/v1/payments/"+ref.TransactionID+"/refund", payload)
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(r.keyID, r.keySecret)

	ctx, cancel := context.WithTimeout(ctx, refundTimeout)
	defer cancel()
	var resp struct {
		ID     string `json:"id"`
		Amount int64  `json:"amount"`
		Status string `json:"status"`
	}
	raw, err := doJSON(ctx, r.client, r.Name(), "create_refund", httpReq, &resp)
	if err != nil {
		if isRejected(err) {
			return nil, fmt.Errorf("%w: %v", ErrRefundRejected, err)
		}
		return nil, err
	}
	return &RefundInfo{
		RefundID: resp.ID,
		Amount:   float64(resp.Amount) / 100,
		Status:   resp.Status,
		Raw:      raw,
	}, nil
}
