package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/learnhub/backend/config"
)

// Paytm is the token-exchange gateway. CreateOrder exchanges a signed
// initiate-transaction request for a txnToken the client uses with the
// provider SDK; completion is verified by checking the callback checksum
// locally and then confirming the order status remotely.
type Paytm struct {
	merchantID  string
	merchantKey string
	website     string
	baseURL     string
	client      *http.Client
}

var paytmMethods = map[string]string{
	"upi":          MethodUPIInternal,
	"cc":           MethodCardInternal,
	"dc":           MethodCardInternal,
	"credit_card":  MethodCardInternal,
	"debit_card":   MethodCardInternal,
	"nb":           MethodNetbankingInternal,
	"net_banking":  MethodNetbankingInternal,
	"ppi":          MethodWalletInternal,
	"wallet":       MethodWalletInternal,
	"emi":          MethodEMIInternal,
	"bank_mandate": MethodBankTransferInternal,
}

// NewPaytm creates the Paytm adapter.
func NewPaytm(cfg config.PaytmConfig) *Paytm {
	return &Paytm{
		merchantID:  cfg.MerchantID,
		merchantKey: cfg.MerchantKey,
		website:     cfg.Website,
		baseURL:     cfg.BaseURL,
		client:      &http.Client{},
	}
}

// Name returns "paytm".
func (g *Paytm) Name() string { return "paytm" }

// checksum signs the given fields with the merchant key: the values are
// joined in key order and HMAC-SHA256'd, base64 encoded.
func (g *Paytm) checksum(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]string, 0, len(keys))
	for _, k := range keys {
		vals = append(vals, fields[k])
	}
	mac := hmac.New(sha256.New, []byte(g.merchantKey))
	mac.Write([]byte(strings.Join(vals, "|")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type paytmInitResp struct {
	Body struct {
		ResultInfo struct {
			ResultStatus string `json:"resultStatus"`
			ResultCode   string `json:"resultCode"`
			ResultMsg    string `json:"resultMsg"`
		} `json:"resultInfo"`
		TxnToken string `json:"txnToken"`
	} `json:"body"`
}

// CreateOrder exchanges the signed request for a transaction token.
func (g *Paytm) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if g.merchantID == "" || g.merchantKey == "" {
		return nil, fmt.Errorf("%w: paytm", ErrMissingConfig)
	}
	body := map[string]interface{}{
		"requestType": "Payment",
		"mid":         g.merchantID,
		"websiteName": g.website,
		"orderId":     req.OrderID,
		"callbackUrl": req.ReturnURL,
		"txnAmount": map[string]string{
			"value":    fmt.Sprintf("%.2f", req.Amount),
			"currency": req.Currency,
		},
		"userInfo": map[string]string{
			"custId": req.CustomerID,
			"email":  req.CustomerEmail,
		},
	}
	signature := g.checksum(map[string]string{
		"mid":     g.merchantID,
		"orderId": req.OrderID,
	})
	payload := map[string]interface{}{
		"body": body,
		"head": map[string]string{"signature": signature},
	}
	httpReq, err := newJSONRequest(http.MethodPost,
		fmt.Sprintf("%s/theia/api/v1/initiateTransaction?mid=%s&orderId=%s", g.baseURL, g.merchantID, req.OrderID), payload)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()
	var resp paytmInitResp
	raw, err := doJSON(ctx, g.client, g.Name(), "create_order", httpReq, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Body.ResultInfo.ResultStatus != "S" || resp.Body.TxnToken == "" {
		return nil, fmt.Errorf("%w: paytm create_order: %s", ErrRejected, resp.Body.ResultInfo.ResultMsg)
	}
	return &Order{
		Gateway:      g.Name(),
		ExternalID:   req.OrderID,
		Flow:         FlowToken,
		SessionToken: resp.Body.TxnToken,
		Raw:          raw,
	}, nil
}

type paytmStatusResp struct {
	Body struct {
		ResultInfo struct {
			ResultStatus string `json:"resultStatus"`
			ResultMsg    string `json:"resultMsg"`
		} `json:"resultInfo"`
		TxnID       string `json:"txnId"`
		OrderID     string `json:"orderId"`
		TxnAmount   string `json:"txnAmount"`
		PaymentMode string `json:"paymentMode"`
	} `json:"body"`
}

func (g *Paytm) orderStatus(ctx context.Context, orderID, op string) (*paytmStatusResp, []byte, error) {
	body := map[string]string{"mid": g.merchantID, "orderId": orderID}
	payload := map[string]interface{}{
		"body": body,
		"head": map[string]string{"signature": g.checksum(body)},
	}
	httpReq, err := newJSONRequest(http.MethodPost, g.baseURL+"/v3/order/status", payload)
	if err != nil {
		return nil, nil, err
	}
	var resp paytmStatusResp
	raw, err := doJSON(ctx, g.client, g.Name(), op, httpReq, &resp)
	if err != nil {
		return nil, nil, err
	}
	return &resp, raw, nil
}

// VerifyCompletion first checks the callback checksum locally, then confirms
// TXN_SUCCESS with the provider. A bad checksum short-circuits to false
// without a network call.
func (g *Paytm) VerifyCompletion(ctx context.Context, ev Evidence) (bool, error) {
	if g.merchantID == "" || g.merchantKey == "" {
		return false, fmt.Errorf("%w: paytm", ErrMissingConfig)
	}
	if ev.OrderID == "" || ev.Signature == "" {
		return false, nil
	}
	expected := g.checksum(map[string]string{
		"mid":     g.merchantID,
		"orderId": ev.OrderID,
		"txnId":   ev.PaymentID,
	})
	if !hmac.Equal([]byte(expected), []byte(ev.Signature)) {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	resp, _, err := g.orderStatus(ctx, ev.OrderID, "verify")
	if err != nil {
		if isRejected(err) {
			return false, nil
		}
		return false, err
	}
	return resp.Body.ResultInfo.ResultStatus == "TXN_SUCCESS", nil
}

// FetchSettledDetails reads the order status and normalizes the payment mode.
func (g *Paytm) FetchSettledDetails(ctx context.Context, externalID string) (*PaymentInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	resp, raw, err := g.orderStatus(ctx, externalID, "fetch_payment")
	if err != nil {
		return nil, err
	}
	var amount float64
	fmt.Sscanf(resp.Body.TxnAmount, "%f", &amount)
	return &PaymentInfo{
		TransactionID: resp.Body.TxnID,
		Method:        normalizeMethod(paytmMethods, resp.Body.PaymentMode, MethodUPIInternal),
		RawMethod:     resp.Body.PaymentMode,
		Amount:        amount,
		Currency:      "INR",
		Status:        resp.Body.ResultInfo.ResultStatus,
		Raw:           raw,
	}, nil
}

// CreateRefund applies a refund for the order's settled transaction.
func (g *Paytm) CreateRefund(ctx context.Context, ref RefundRef, amount float64, note string) (*RefundInfo, error) {
	body := map[string]string{
		"mid":          g.merchantID,
		"orderId":      ref.OrderID,
		"txnId":        ref.TransactionID,
		"refId":        "refund_" + ref.OrderID,
		"refundAmount": fmt.Sprintf("%.2f", amount),
		"comments":     note,
	}
	payload := map[string]interface{}{
		"body": body,
		"head": map[string]string{"signature": g.checksum(body)},
	}
	httpReq, err := newJSONRequest(http.MethodPost, g.baseURL+"/refund/apply", payload)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, refundTimeout)
	defer cancel()
	var resp struct {
		Body struct {
			ResultInfo struct {
				ResultStatus string `json:"resultStatus"`
				ResultMsg    string `json:"resultMsg"`
			} `json:"resultInfo"`
			RefundID string `json:"refundId"`
		} `json:"body"`
	}
	raw, err := doJSON(ctx, g.client, g.Name(), "create_refund", httpReq, &resp)
	if err != nil {
		if isRejected(err) {
			return nil, fmt.Errorf("%w: %v", ErrRefundRejected, err)
		}
		return nil, err
	}
	if resp.Body.ResultInfo.ResultStatus == "TXN_FAILURE" {
		return nil, fmt.Errorf("%w: paytm: %s", ErrRefundRejected, resp.Body.ResultInfo.ResultMsg)
	}
	return &RefundInfo{
		RefundID: resp.Body.RefundID,
		Amount:   amount,
		Status:   resp.Body.ResultInfo.ResultStatus,
		Raw:      raw,
	}, nil
}
