package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/learnhub/backend/config"
)

const cashfreeAPIVersion = "2023-08-01"

// Cashfree is the hosted-session gateway. CreateOrder returns a
// payment_session_id the client opens in the provider's checkout; completion
// is verified with a remote order-status lookup.
type Cashfree struct {
	appID     string
	secretKey string
	baseURL   string
	client    *http.Client
}

var cashfreeMethods = map[string]string{
	"upi":          MethodUPIInternal,
	"card":         MethodCardInternal,
	"credit_card":  MethodCardInternal,
	"debit_card":   MethodCardInternal,
	"net_banking":  MethodNetbankingInternal,
	"netbanking":   MethodNetbankingInternal,
	"wallet":       MethodWalletInternal,
	"app":          MethodWalletInternal,
	"emi":          MethodEMIInternal,
	"banktransfer": MethodBankTransferInternal,
	"cardless_emi": MethodEMIInternal,
	"paylater":     MethodWalletInternal,
}

// NewCashfree creates the Cashfree adapter.
func NewCashfree(cfg config.CashfreeConfig) *Cashfree {
	return &Cashfree{
		appID:     cfg.AppID,
		secretKey: cfg.SecretKey,
		baseURL:   cfg.BaseURL,
		client:    &http.Client{},
	}
}

// Name returns "cashfree".
func (g *Cashfree) Name() string { return "cashfree" }

func (g *Cashfree) setAuth(req *http.Request) {
	req.Header.Set("x-client-id", g.appID)
	req.Header.Set("x-client-secret", g.secretKey)
	req.Header.Set("x-api-version", cashfreeAPIVersion)
}

type cashfreeOrderResp struct {
	CFOrderID        string  `json:"cf_order_id"`
	OrderID          string  `json:"order_id"`
	OrderAmount      float64 `json:"order_amount"`
	OrderCurrency    string  `json:"order_currency"`
	OrderStatus      string  `json:"order_status"`
	PaymentSessionID string  `json:"payment_session_id"`
}

// CreateOrder creates a provider order keyed by our order id and returns the
// hosted session token.
func (g *Cashfree) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if g.appID == "" || g.secretKey == "" {
		return nil, fmt.Errorf("%w: cashfree", ErrMissingConfig)
	}
	payload := map[string]interface{}{
		"order_id":       req.OrderID,
		"order_amount":   req.Amount,
		"order_currency": req.Currency,
		"order_note":     req.Description,
		"customer_details": map[string]string{
			"customer_id":    req.CustomerID,
			"customer_name":  req.CustomerName,
			"customer_email": req.CustomerEmail,
			"customer_phone": req.CustomerPhone,
		},
		"order_meta": map[string]string{
			"return_url": req.ReturnURL,
			"notify_url": req.NotifyURL,
		},
	}
	httpReq, err := newJSONRequest(http.MethodPost, g.baseURL+"/pg/orders", payload)
	if err != nil {
		return nil, err
	}
	g.setAuth(httpReq)

	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()
	var resp cashfreeOrderResp
	raw, err := doJSON(ctx, g.client, g.Name(), "create_order", httpReq, &resp)
	if err != nil {
		return nil, err
	}
	if resp.PaymentSessionID == "" {
		return nil, fmt.Errorf("%w: cashfree create_order: empty session id", ErrRejected)
	}
	return &Order{
		Gateway:      g.Name(),
		ExternalID:   resp.OrderID,
		Flow:         FlowSession,
		SessionToken: resp.PaymentSessionID,
		Raw:          raw,
	}, nil
}

// VerifyCompletion looks up the order remotely; only order_status PAID
// verifies. An unknown order verifies as false.
func (g *Cashfree) VerifyCompletion(ctx context.Context, ev Evidence) (bool, error) {
	if g.appID == "" || g.secretKey == "" {
		return false, fmt.Errorf("%w: cashfree", ErrMissingConfig)
	}
	if ev.OrderID == "" {
		return false, nil
	}
	httpReq, err := http.NewRequest(http.MethodGet, g.baseURL+"/pg/orders/"+ev.OrderID, nil)
	if err != nil {
		return false, err
	}
	g.setAuth(httpReq)

	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	var resp cashfreeOrderResp
	if _, err := doJSON(ctx, g.client, g.Name(), "verify", httpReq, &resp); err != nil {
		if isRejected(err) {
			return false, nil
		}
		return false, err
	}
	return resp.OrderStatus == "PAID", nil
}

type cashfreePaymentResp struct {
	CFPaymentID   string  `json:"cf_payment_id"`
	PaymentAmount float64 `json:"payment_amount"`
	PaymentStatus string  `json:"payment_status"`
	PaymentGroup  string  `json:"payment_group"`
	Currency      string  `json:"payment_currency"`
}

// FetchSettledDetails lists the order's payments and normalizes the
// successful one.
func (g *Cashfree) FetchSettledDetails(ctx context.Context, externalID string) (*PaymentInfo, error) {
	httpReq, err := http.NewRequest(http.MethodGet, g.baseURL+"/pg/orders/"+externalID+"/payments", nil)
	if err != nil {
		return nil, err
	}
	g.setAuth(httpReq)

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	var resp []cashfreePaymentResp
	raw, err := doJSON(ctx, g.client, g.Name(), "fetch_payment", httpReq, &resp)
	if err != nil {
		return nil, err
	}
	var p *cashfreePaymentResp
	for i := range resp {
		if resp[i].PaymentStatus == "SUCCESS" {
			p = &resp[i]
			break
		}
	}
	if p == nil && len(resp) > 0 {
		p = &resp[0]
	}
	if p == nil {
		return nil, fmt.Errorf("%w: cashfree fetch_payment: no payments for order %s", ErrRejected, externalID)
	}
	return &PaymentInfo{
		TransactionID: p.CFPaymentID,
		Method:        normalizeMethod(cashfreeMethods, p.PaymentGroup, MethodUPIInternal),
		RawMethod:     p.PaymentGroup,
		Amount:        p.PaymentAmount,
		Currency:      p.Currency,
		Status:        p.PaymentStatus,
		Raw:           raw,
	}, nil
}

// CreateRefund requests a refund against the order.
func (g *Cashfree) CreateRefund(ctx context.Context, ref RefundRef, amount float64, note string) (*RefundInfo, error) {
	payload := map[string]interface{}{
		"refund_amount": amount,
		"refund_id":     "refund_" + ref.OrderID,
		"refund_note":   note,
	}
	httpReq, err := newJSONRequest(http.MethodPost, g.baseURL+"/pg/orders/"+ref.OrderID+"/refunds", payload)
	if err != nil {
		return nil, err
	}
	g.setAuth(httpReq)

	ctx, cancel := context.WithTimeout(ctx, refundTimeout)
	defer cancel()
	var resp struct {
		CFRefundID   string  `json:"cf_refund_id"`
		RefundID     string  `json:"refund_id"`
		RefundAmount float64 `json:"refund_amount"`
		RefundStatus string  `json:"refund_status"`
	}
	raw, err := doJSON(ctx, g.client, g.Name(), "create_refund", httpReq, &resp)
	if err != nil {
		if isRejected(err) {
			return nil, fmt.Errorf("%w: %v", ErrRefundRejected, err)
		}
		return nil, err
	}
	refundID := resp.CFRefundID
	if refundID == "" {
		refundID = resp.RefundID
	}
	return &RefundInfo{
		RefundID: refundID,
		Amount:   resp.RefundAmount,
		Status:   resp.RefundStatus,
		Raw:      raw,
	}, nil
}
