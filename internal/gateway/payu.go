package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/learnhub/backend/config"
)

// PayU is the form-post gateway. CreateOrder performs no network call: it
// assembles the self-submitting form payload including a server-side SHA-512
// request hash. Completion is verified by recomputing the reverse hash over
// the callback fields.
type PayU struct {
	merchantKey string
	salt        string
	baseURL     string
	client      *http.Client
}

var payuMethods = map[string]string{
	"cc":           MethodCardInternal,
	"dc":           MethodCardInternal,
	"creditcard":   MethodCardInternal,
	"debitcard":    MethodCardInternal,
	"upi":          MethodUPIInternal,
	"nb":           MethodNetbankingInternal,
	"netbanking":   MethodNetbankingInternal,
	"cash":         MethodWalletInternal,
	"wallet":       MethodWalletInternal,
	"emi":          MethodEMIInternal,
	"neftrtgs":     MethodBankTransferInternal,
	"banktransfer": MethodBankTransferInternal,
}

// NewPayU creates the PayU adapter.
func NewPayU(cfg config.PayUConfig) *PayU {
	return &PayU{
		merchantKey: cfg.MerchantKey,
		salt:        cfg.Salt,
		baseURL:     cfg.BaseURL,
		client:      &http.Client{},
	}
}

// Name returns "payu".
func (g *PayU) Name() string { return "payu" }

func sha512Hex(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}

// requestHash computes the order-creation hash:
// sha512(key|txnid|amount|productinfo|firstname|email|udf1|udf2|udf3|udf4|udf5||||||salt)
func (g *PayU) requestHash(txnid, amount, productinfo, firstname, email string) string {
	parts := []string{g.merchantKey, txnid, amount, productinfo, firstname, email,
		"", "", "", "", "", "", "", "", "", "", g.salt}
	return sha512Hex(strings.Join(parts, "|"))
}

// responseHash computes the callback verification hash (reverse order):
// sha512(salt|status||||||udf5|udf4|udf3|udf2|udf1|email|firstname|productinfo|amount|txnid|key)
func (g *PayU) responseHash(status, txnid, amount, productinfo, firstname, email string) string {
	parts := []string{g.salt, status, "", "", "", "", "", "", "", "", "", "",
		email, firstname, productinfo, amount, txnid, g.merchantKey}
	return sha512Hex(strings.Join(parts, "|"))
}

// CreateOrder builds the form payload locally; the browser posts it to the
// provider. The internal order id doubles as the provider transaction id.
func (g *PayU) CreateOrder(_ context.Context, req OrderRequest) (*Order, error) {
	if g.merchantKey == "" || g.salt == "" {
		return nil, fmt.Errorf("%w: payu", ErrMissingConfig)
	}
	amount := fmt.Sprintf("%.2f", req.Amount)
	productinfo := req.Description
	if productinfo == "" {
		productinfo = "course purchase"
	}
	fields := map[string]string{
		"key":         g.merchantKey,
		"txnid":       req.OrderID,
		"amount":      amount,
		"productinfo": productinfo,
		"firstname":   req.CustomerName,
		"email":       req.CustomerEmail,
		"phone":       req.CustomerPhone,
		"surl":        req.ReturnURL,
		"furl":        req.ReturnURL,
		"hash":        g.requestHash(req.OrderID, amount, productinfo, req.CustomerName, req.CustomerEmail),
	}
	return &Order{
		Gateway:    g.Name(),
		ExternalID: req.OrderID,
		Flow:       FlowForm,
		FormURL:    g.baseURL + "/_payment",
		FormFields: fields,
	}, nil
}

// VerifyCompletion recomputes the reverse hash over the posted-back fields.
// Pure local comparison: only a missing salt is an error, anything else
// ambiguous verifies as false.
func (g *PayU) VerifyCompletion(_ context.Context, ev Evidence) (bool, error) {
	if g.merchantKey == "" || g.salt == "" {
		return false, fmt.Errorf("%w: payu", ErrMissingConfig)
	}
	if ev.Signature == "" || ev.Fields == nil {
		return false, nil
	}
	status := ev.Fields["status"]
	if status != "success" {
		return false, nil
	}
	expected := g.responseHash(status, ev.Fields["txnid"], ev.Fields["amount"],
		ev.Fields["productinfo"], ev.Fields["firstname"], ev.Fields["email"])
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(ev.Signature))), nil
}

type payuVerifyResp struct {
	Status             int `json:"status"`
	TransactionDetails map[string]struct {
		MihpayID string `json:"mihpayid"`
		Status   string `json:"status"`
		Amount   string `json:"amt"`
		Mode     string `json:"mode"`
	} `json:"transaction_details"`
}

// FetchSettledDetails calls the verify_payment API for the transaction.
func (g *PayU) FetchSettledDetails(ctx context.Context, externalID string) (*PaymentInfo, error) {
	form := url.Values{}
	form.Set("key", g.merchantKey)
	form.Set("command", "verify_payment")
	form.Set("var1", externalID)
	form.Set("hash", sha512Hex(strings.Join([]string{g.merchantKey, "verify_payment", externalID, g.salt}, "|")))

	httpReq, err := http.NewRequest(http.MethodPost, g.baseURL+"/merchant/postservice?form=2", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	var resp payuVerifyResp
	raw, err := doJSON(ctx, g.client, g.Name(), "fetch_payment", httpReq, &resp)
	if err != nil {
		return nil, err
	}
	det, ok := resp.TransactionDetails[externalID]
	if !ok {
		return nil, fmt.Errorf("%w: payu fetch_payment: no details for %s", ErrRejected, externalID)
	}
	var amount float64
	fmt.Sscanf(det.Amount, "%f", &amount)
	return &PaymentInfo{
		TransactionID: det.MihpayID,
		Method:        normalizeMethod(payuMethods, det.Mode, MethodNetbankingInternal),
		RawMethod:     det.Mode,
		Amount:        amount,
		Currency:      "INR",
		Status:        det.Status,
		Raw:           raw,
	}, nil
}

// CreateRefund invokes cancel_refund_transaction for the settled payment id.
func (g *PayU) CreateRefund(ctx context.Context, ref RefundRef, amount float64, note string) (*RefundInfo, error) {
	amt := fmt.Sprintf("%.2f", amount)
	form := url.Values{}
	form.Set("key", g.merchantKey)
	form.Set("command", "cancel_refund_transaction")
	form.Set("var1", ref.TransactionID)
	form.Set("var2", "refund_"+ref.TransactionID)
	form.Set("var3", amt)
	form.Set("hash", sha512Hex(strings.Join([]string{g.merchantKey, "cancel_refund_transaction", ref.TransactionID, g.salt}, "|")))

	httpReq, err := http.NewRequest(http.MethodPost, g.baseURL+"/merchant/postservice?form=2", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	ctx, cancel := context.WithTimeout(ctx, refundTimeout)
	defer cancel()
	var resp struct {
		Status    int             `json:"status"`
		Msg       string          `json:"msg"`
		RequestID json.RawMessage `json:"request_id"`
	}
	raw, err := doJSON(ctx, g.client, g.Name(), "create_refund", httpReq, &resp)
	if err != nil {
		if isRejected(err) {
			return nil, fmt.Errorf("%w: %v", ErrRefundRejected, err)
		}
		return nil, err
	}
	if resp.Status != 1 {
		return nil, fmt.Errorf("%w: payu: %s", ErrRefundRejected, resp.Msg)
	}
	return &RefundInfo{
		RefundID: strings.Trim(string(resp.RequestID), `"`),
		Amount:   amount,
		Status:   "pending",
		Raw:      raw,
	}, nil
}
