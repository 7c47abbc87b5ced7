package gateway

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/learnhub/backend/config"
)

// Stripe is the intent-based gateway. CreateOrder opens a PaymentIntent and
// hands the client its secret; verification is a remote intent retrieval.
type Stripe struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

var stripeMethods = map[string]string{
	"card":             MethodCardInternal,
	"card_present":     MethodCardInternal,
	"us_bank_account":  MethodBankTransferInternal,
	"sepa_debit":       MethodBankTransferInternal,
	"customer_balance": MethodBankTransferInternal,
	"link":             MethodWalletInternal,
	"paypal":           MethodWalletInternal,
}

// NewStripe creates the Stripe adapter.
func NewStripe(cfg config.StripeConfig) *Stripe {
	return &Stripe{
		secretKey: cfg.SecretKey,
		baseURL:   cfg.BaseURL,
		client:    &http.Client{},
	}
}

// Name returns "stripe".
func (s *Stripe) Name() string { return "stripe" }

type stripeIntentResp struct {
	ID                 string   `json:"id"`
	ClientSecret       string   `json:"client_secret"`
	Amount             int64    `json:"amount"`
	Currency           string   `json:"currency"`
	Status             string   `json:"status"`
	LatestCharge       string   `json:"latest_charge"`
	PaymentMethodTypes []string `json:"payment_method_types"`
	Charges            struct {
		Data []struct {
			ID                   string `json:"id"`
			PaymentMethodDetails struct {
				Type string `json:"type"`
			} `json:"payment_method_details"`
		} `json:"data"`
	} `json:"charges"`
}

func (s *Stripe) formRequest(method, path string, form url.Values) (*http.Request, error) {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req, err := http.NewRequest(method, s.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// CreateOrder opens a PaymentIntent; the amount is sent in the currency's
// smallest unit.
func (s *Stripe) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if s.secretKey == "" {
		return nil, fmt.Errorf("%w: stripe", ErrMissingConfig)
	}
	form := url.Values{}
	form.Set("amount", fmt.Sprintf("%d", int64(math.Round(req.Amount*100))))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("description", req.Description)
	form.Set("metadata[order_id]", req.OrderID)
	form.Set("metadata[customer_id]", req.CustomerID)
	if req.CustomerEmail != "" {
		form.Set("receipt_email", req.CustomerEmail)
	}
	httpReq, err := s.formRequest(http.MethodPost, "/v1/payment_intents", form)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()
	var resp stripeIntentResp
	raw, err := doJSON(ctx, s.client, s.Name(), "create_order", httpReq, &resp)
	if err != nil {
		return nil, err
	}
	if resp.ID == "" || resp.ClientSecret == "" {
		return nil, fmt.Errorf("%w: stripe create_order: incomplete intent", ErrRejected)
	}
	return &Order{
		Gateway:      s.Name(),
		ExternalID:   resp.ID,
		Flow:         FlowIntent,
		ClientSecret: resp.ClientSecret,
		Raw:          raw,
	}, nil
}

func (s *Stripe) retrieveIntent(ctx context.Context, id, op string) (*stripeIntentResp, []byte, error) {
	httpReq, err := s.formRequest(http.MethodGet, "/v1/payment_intents/"+id, nil)
	if err != nil {
		return nil, nil, err
	}
	var resp stripeIntentResp
	raw, err := doJSON(ctx, s.client, s.Name(), op, httpReq, &resp)
	if err != nil {
		return nil, nil, err
	}
	return &resp, raw, nil
}

// VerifyCompletion retrieves the intent and reports whether it succeeded.
// A missing or unknown intent id verifies as false, not as an error.
func (s *Stripe) VerifyCompletion(ctx context.Context, ev Evidence) (bool, error) {
	if s.secretKey == "" {
		return false, fmt.Errorf("%w: stripe", ErrMissingConfig)
	}
	id := ev.PaymentID
	if id == "" {
		id = ev.OrderID
	}
	if id == "" {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	resp, _, err := s.retrieveIntent(ctx, id, "verify")
	if err != nil {
		if isRejected(err) {
			return false, nil
		}
		return false, err
	}
	return resp.Status == "succeeded", nil
}

// FetchSettledDetails retrieves the succeeded intent and normalizes the
// charge's payment method.
func (s *Stripe) FetchSettledDetails(ctx context.Context, externalID string) (*PaymentInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	resp, raw, err := s.retrieveIntent(ctx, externalID, "fetch_payment")
	if err != nil {
		return nil, err
	}
	rawMethod := ""
	if len(resp.Charges.Data) > 0 {
		rawMethod = resp.Charges.Data[0].PaymentMethodDetails.Type
	} else if len(resp.PaymentMethodTypes) > 0 {
		rawMethod = resp.PaymentMethodTypes[0]
	}
	txnID := resp.LatestCharge
	if txnID == "" {
		txnID = resp.ID
	}
	return &PaymentInfo{
		TransactionID: txnID,
		Method:        normalizeMethod(stripeMethods, rawMethod, MethodCardInternal),
		RawMethod:     rawMethod,
		Amount:        float64(resp.Amount) / 100,
		Currency:      strings.ToUpper(resp.Currency),
		Status:        resp.Status,
		Raw:           raw,
	}, nil
}

// CreateRefund refunds against the PaymentIntent.
func (s *Stripe) CreateRefund(ctx context.Context, ref RefundRef, amount float64, note string) (*RefundInfo, error) {
	form := url.Values{}
	form.Set("payment_intent", ref.OrderID)
	form.Set("amount", fmt.Sprintf("%d", int64(math.Round(amount*100))))
	form.Set("metadata[note]", note)
	httpReq, err := s.formRequest(http.MethodPost, "/v1/refunds", form)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, refundTimeout)
	defer cancel()
	var resp struct {
		ID     string `json:"id"`
		Amount int64  `json:"amount"`
		Status string `json:"status"`
	}
	raw, err := doJSON(ctx, s.client, s.Name(), "create_refund", httpReq, &resp)
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
