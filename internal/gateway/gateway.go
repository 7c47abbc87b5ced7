// Package gateway unifies five heterogeneous payment providers behind one
// contract: create order, verify completion, fetch settled details, refund.
// Callers dispatch through the Registry and never branch on provider identity.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/learnhub/backend/pkg/metrics"
)

// Sentinel errors. Transport and 5xx failures map to ErrUnavailable,
// provider validation errors to ErrRejected, declined refunds to
// ErrRefundRejected.
var (
	ErrUnavailable    = errors.New("gateway unavailable")
	ErrRejected       = errors.New("gateway rejected request")
	ErrRefundRejected = errors.New("refund rejected")
	ErrUnknownGateway = errors.New("unsupported gateway")
	ErrMissingConfig  = errors.New("gateway credentials not configured")
)

// Per-operation timeouts for outbound provider calls.
const (
	createTimeout = 15 * time.Second
	verifyTimeout = 10 * time.Second
	fetchTimeout  = 10 * time.Second
	refundTimeout = 30 * time.Second
)

// Normalized payment-method taxonomy shared with internal/models.
const (
	MethodCardInternal         = "card"
	MethodUPIInternal          = "upi"
	MethodNetbankingInternal   = "netbanking"
	MethodWalletInternal       = "wallet"
	MethodEMIInternal          = "emi"
	MethodBankTransferInternal = "bank_transfer"
)

// Flow identifies how the client continues the payment after order creation.
type Flow string

const (
	FlowRedirect Flow = "redirect" // hosted checkout / checkout-js
	FlowIntent   Flow = "intent"   // client confirms with a client secret
	FlowSession  Flow = "session"  // hosted session token
	FlowForm     Flow = "form"     // self-submitting form post
	FlowToken    Flow = "token"    // exchanged transaction token
)

// OrderRequest is the provider-neutral order creation request.
type OrderRequest struct {
	OrderID       string // internal order identifier, passed through as receipt/reference
	Amount        float64
	Currency      string
	CustomerID    string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Description   string
	ReturnURL     string
	NotifyURL     string
}

// Order is the provider response to order creation, carrying exactly one
// continue artifact depending on the flow.
type Order struct {
	Gateway      string            `json:"gateway"`
	ExternalID   string            `json:"external_id"`
	Flow         Flow              `json:"flow"`
	RedirectURL  string            `json:"redirect_url,omitempty"`
	ClientSecret string            `json:"client_secret,omitempty"`
	SessionToken string            `json:"session_token,omitempty"`
	FormURL      string            `json:"form_url,omitempty"`
	FormFields   map[string]string `json:"form_fields,omitempty"`
	KeyID        string            `json:"key_id,omitempty"` // publishable key where the client SDK needs one
	Raw          json.RawMessage   `json:"-"`
}

// Evidence is what a completion callback or webhook supplies for verification.
// Adapters read only the fields their scheme needs; anything extra that a
// hash recipe covers rides in Fields.
type Evidence struct {
	OrderID   string            `json:"order_id,omitempty"`   // provider order reference
	PaymentID string            `json:"payment_id,omitempty"` // provider payment/transaction id
	Signature string            `json:"signature,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// PaymentInfo is the provider's settled-payment record, with the method
// normalized into the platform taxonomy.
type PaymentInfo struct {
	TransactionID string
	Method        string // normalized
	RawMethod     string
	Amount        float64
	Currency      string
	Status        string
	Raw           json.RawMessage
}

// RefundRef identifies the settled payment to refund. Providers differ in
// which handle a refund targets: some refund the order, some the captured
// transaction, so callers supply both.
type RefundRef struct {
	OrderID       string // provider order reference (gateway_order_id)
	TransactionID string // provider payment/transaction id
}

// RefundInfo is the provider's refund record.
type RefundInfo struct {
	RefundID string
	Amount   float64
	Status   string
	Raw      json.RawMessage
}

// Gateway is the uniform provider contract. VerifyCompletion returns
// (false, nil) on any ambiguous or malformed evidence; errors are reserved
// for transport failures and missing configuration, and callers must retry
// rather than treat them as "not verified".
type Gateway interface {
	Name() string
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	VerifyCompletion(ctx context.Context, ev Evidence) (bool, error)
	FetchSettledDetails(ctx context.Context, externalID string) (*PaymentInfo, error)
	CreateRefund(ctx context.Context, ref RefundRef, amount float64, note string) (*RefundInfo, error)
}

// Registry holds the configured gateways, keyed by name, built once at startup.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry creates a registry from the given gateways.
func NewRegistry(gws ...Gateway) *Registry {
	m := make(map[string]Gateway, len(gws))
	for _, g := range gws {
		m[g.Name()] = g
	}
	return &Registry{gateways: m}
}

// Get returns the gateway with the given name.
func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGateway, name)
	}
	return g, nil
}

// Supported reports whether a gateway with the given name is registered.
func (r *Registry) Supported(name string) bool {
	_, ok := r.gateways[strings.ToLower(name)]
	return ok
}

// Names returns the registered gateway names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for n := range r.gateways {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// normalizeMethod maps a provider method string onto the internal taxonomy,
// falling back to the provider's most common method instead of failing.
func normalizeMethod(table map[string]string, raw, fallback string) string {
	if m, ok := table[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return m
	}
	return fallback
}

// doJSON executes req, records gateway metrics, and decodes a JSON body into
// out (when out is non-nil). Transport errors and 5xx responses wrap
// ErrUnavailable; 4xx responses wrap ErrRejected with the provider body
// preserved for logs.
func doJSON(ctx context.Context, client *http.Client, gw, op string, req *http.Request, out interface{}) (json.RawMessage, error) {
	start := time.Now()
	resp, err := client.Do(req.WithContext(ctx))
	metrics.GatewayRequestLatency.WithLabelValues(gw, op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GatewayErrorsTotal.WithLabelValues(gw, op).Inc()
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, gw, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.GatewayErrorsTotal.WithLabelValues(gw, op).Inc()
		return nil, fmt.Errorf("%w: %s %s: read body: %v", ErrUnavailable, gw, op, err)
	}
	switch {
	case resp.StatusCode >= 500:
		metrics.GatewayErrorsTotal.WithLabelValues(gw, op).Inc()
		return nil, fmt.Errorf("%w: %s %s: status %d", ErrUnavailable, gw, op, resp.StatusCode)
	case resp.StatusCode >= 400:
		metrics.GatewayErrorsTotal.WithLabelValues(gw, op).Inc()
		return nil, fmt.Errorf("%w: %s %s: status %d: %s", ErrRejected, gw, op, resp.StatusCode, truncate(body, 512))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("%w: %s %s: decode response: %v", ErrRejected, gw, op, err)
		}
	}
	return json.RawMessage(body), nil
}

func newJSONRequest(method, url string, payload interface{}) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func isRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
