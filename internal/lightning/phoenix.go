// Package lightning provides a thin HTTP client for a phoenixd-style
// Lightning node. All calls go through a circuit breaker so a dead node
// fails fast instead of stacking up 20-second timeouts.
package lightning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alittlebitofmoney/server/internal/circuitbreaker"
)

// ErrUnavailable is returned for transport failures, non-2xx responses, and
// non-JSON payloads. Callers map it to a 503 phoenix_unavailable envelope.
var ErrUnavailable = errors.New("lightning node unavailable")

// Invoice is the result of creating a Lightning invoice.
type Invoice struct {
	PaymentHash string `json:"paymentHash"`
	Serialized  string `json:"serialized"` // BOLT11
	AmountSat   int64  `json:"amountSat"`
}

// Payment is the result of paying an outbound invoice.
type Payment struct {
	PaymentHash        string `json:"paymentHash"`
	PaymentPreimage    string `json:"paymentPreimage"`
	RecipientAmountSat int64  `json:"recipientAmountSat"`
	RoutingFeeSat      int64  `json:"routingFeeSat"`
}

// Balance is the node's channel balance.
type Balance struct {
	BalanceSat   int64 `json:"balanceSat"`
	FeeCreditSat int64 `json:"feeCreditSat"`
}

// IncomingPayment describes an incoming payment by hash.
type IncomingPayment struct {
	PaymentHash string `json:"paymentHash"`
	Preimage    string `json:"preimage"`
	IsPaid      bool   `json:"isPaid"`
	ReceivedSat int64  `json:"receivedSat"`
}

// Client talks to the Phoenix HTTP API with basic auth (empty user, password).
type Client struct {
	baseURL  string
	password string
	http     *http.Client
	breakers *circuitbreaker.Manager
}

// New creates a Phoenix client. A nil breaker manager disables breaking.
func New(baseURL, password string, timeout time.Duration, breakers *circuitbreaker.Manager) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if breakers == nil {
		breakers = circuitbreaker.NewManager(circuitbreaker.Config{Enabled: false})
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		password: password,
		http:     &http.Client{Timeout: timeout},
		breakers: breakers,
	}
}

// CreateInvoice asks the node for a new invoice.
func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, description string) (*Invoice, error) {
	form := url.Values{
		"amountSat":   {strconv.FormatInt(amountSats, 10)},
		"description": {description},
	}
	var inv Invoice
	if err := c.do(ctx, http.MethodPost, "/createinvoice", form, &inv); err != nil {
		return nil, err
	}
	inv.PaymentHash = strings.ToLower(inv.PaymentHash)
	return &inv, nil
}

// PayInvoice pays a BOLT11 invoice and returns the proof of payment.
func (c *Client) PayInvoice(ctx context.Context, bolt11 string) (*Payment, error) {
	form := url.Values{"invoice": {strings.TrimSpace(bolt11)}}
	var p Payment
	if err := c.do(ctx, http.MethodPost, "/payinvoice", form, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetBalance fetches the node's balance.
func (c *Client) GetBalance(ctx context.Context) (*Balance, error) {
	var b Balance
	if err := c.do(ctx, http.MethodGet, "/getbalance", nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetIncomingPayment looks up an incoming payment by its hash.
func (c *Client) GetIncomingPayment(ctx context.Context, paymentHash string) (*IncomingPayment, error) {
	var p IncomingPayment
	if err := c.do(ctx, http.MethodGet, "/payments/incoming/"+url.PathEscape(paymentHash), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// do executes one request through the circuit breaker and decodes the JSON
// response into out.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	_, err := c.breakers.Execute(circuitbreaker.ServicePhoenix, func() (interface{}, error) {
		return nil, c.doRequest(ctx, method, path, form, out)
	})
	if err != nil {
		// Breaker-open errors count as unavailability too.
		if !errors.Is(err, ErrUnavailable) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.SetBasicAuth("", c.password)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("%w: node returned %d: %s", ErrUnavailable, resp.StatusCode, string(snippet))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: non-json response", ErrUnavailable)
	}
	return nil
}
