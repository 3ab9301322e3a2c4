// Package broker models the brokerage-order-gateway capability spec.md §6
// treats as an external collaborator: profile/margins/orders/positions/
// holdings/place_order. The default implementation is a generic REST client
// grounded on poorman-SynapseStrike/SynapseStrike/market/api_client.go's
// API-key-header HTTP client shape, with session bring-up derived from a
// TOTP secret the way original_source/util.py derives a kite enctoken via
// pyotp.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
)

// Profile identifies the logged-in brokerage account.
type Profile struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// Margins reports available trading capital.
type Margins struct {
	Equity struct {
		Available struct {
			Cash float64 `json:"cash"`
		} `json:"available"`
		Net float64 `json:"net"`
	} `json:"equity"`
}

// Order is one entry in the order book.
type Order struct {
	OrderID         string  `json:"order_id"`
	TradingSymbol   string  `json:"tradingsymbol"`
	TransactionType string  `json:"transaction_type"`
	Quantity        int     `json:"quantity"`
	Status          string  `json:"status"`
	AveragePrice    float64 `json:"average_price"`
}

// Position is one open net position, signed quantity (negative = short).
type Position struct {
	InstrumentToken int64   `json:"instrument_token"`
	TradingSymbol   string  `json:"tradingsymbol"`
	Quantity        int     `json:"quantity"`
	AveragePrice    float64 `json:"average_price"`
}

// Positions wraps the "net" positions book, matching spec.md §6's shape.
type Positions struct {
	Net []Position `json:"net"`
}

// Holding is one long-term holding.
type Holding struct {
	TradingSymbol string  `json:"tradingsymbol"`
	Quantity      int     `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
}

const (
	TransactionBuy  = "BUY"
	TransactionSell = "SELL"

	VarietyRegular = "regular"
	ExchangeNSE    = "NSE"
	ProductMIS     = "MIS"
	OrderTypeMkt   = "MARKET"
	ValidityDay    = "DAY"
)

// PlaceOrderRequest is the full order-placement capability required by
// spec.md §6.
type PlaceOrderRequest struct {
	Variety         string
	Exchange        string
	TradingSymbol   string
	TransactionType string // BUY or SELL
	Quantity        int
	Product         string
	OrderType       string // defaults to MARKET
	Validity        string // defaults to DAY
	Tag             string
}

// Broker is the capability surface spec.md §6 requires; the core engines
// only ever see this interface, never a concrete client.
type Broker interface {
	Profile(ctx context.Context) (Profile, error)
	Margins(ctx context.Context) (Margins, error)
	Orders(ctx context.Context) ([]Order, error)
	Positions(ctx context.Context) (Positions, error)
	Holdings(ctx context.Context) ([]Holding, error)
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (orderID string, err error)
	// EnsureSession probes Profile and, on failure, derives a fresh
	// session via TOTP — spec.md §4.8's "time-based one-time-password
	// derivation" start-path step.
	EnsureSession(ctx context.Context) error
}

// RESTBroker is a generic REST client against a configurable brokerage
// gateway. Session validity is probed by calling Profile before use and
// re-derived on failure, per spec.md §5's shared-resource policy.
type RESTBroker struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	totpSecret string

	mu        sync.Mutex
	sessionID string
}

func NewRESTBroker(baseURL, apiKey, totpSecret string) *RESTBroker {
	return &RESTBroker{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		totpSecret: totpSecret,
	}
}

func (b *RESTBroker) EnsureSession(ctx context.Context) error {
	if _, err := b.Profile(ctx); err == nil {
		return nil
	}
	return b.login(ctx)
}

// login derives a fresh broker session token via the account's TOTP
// secret, the Go equivalent of original_source/util.py's
// `pyotp.TOTP(secret).now()` + enctoken exchange.
func (b *RESTBroker) login(ctx context.Context) error {
	code, err := totp.GenerateCode(b.totpSecret, time.Now())
	if err != nil {
		return fmt.Errorf("broker: generate totp code: %w", err)
	}

	var resp struct {
		SessionToken string `json:"session_token"`
	}
	if err := b.do(ctx, http.MethodPost, "/session/token", map[string]string{
		"api_key":  b.apiKey,
		"totp":     code,
	}, &resp); err != nil {
		return fmt.Errorf("broker: login: %w", err)
	}

	b.mu.Lock()
	b.sessionID = resp.SessionToken
	b.mu.Unlock()
	return nil
}

func (b *RESTBroker) Profile(ctx context.Context) (Profile, error) {
	var p Profile
	err := b.do(ctx, http.MethodGet, "/user/profile", nil, &p)
	return p, err
}

func (b *RESTBroker) Margins(ctx context.Context) (Margins, error) {
	var m Margins
	err := b.do(ctx, http.MethodGet, "/user/margins", nil, &m)
	return m, err
}

func (b *RESTBroker) Orders(ctx context.Context) ([]Order, error) {
	var o []Order
	err := b.do(ctx, http.MethodGet, "/orders", nil, &o)
	return o, err
}

func (b *RESTBroker) Positions(ctx context.Context) (Positions, error) {
	var p Positions
	err := b.do(ctx, http.MethodGet, "/portfolio/positions", nil, &p)
	return p, err
}

func (b *RESTBroker) Holdings(ctx context.Context) ([]Holding, error) {
	var h []Holding
	err := b.do(ctx, http.MethodGet, "/portfolio/holdings", nil, &h)
	return h, err
}

func (b *RESTBroker) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (string, error) {
	if req.OrderType == "" {
		req.OrderType = OrderTypeMkt
	}
	if req.Validity == "" {
		req.Validity = ValidityDay
	}

	var resp struct {
		OrderID string `json:"order_id"`
	}
	if err := b.do(ctx, http.MethodPost, "/orders/regular", req, &resp); err != nil {
		return "", fmt.Errorf("broker: place order: %w", err)
	}
	return resp.OrderID, nil
}

func (b *RESTBroker) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", b.apiKey)

	b.mu.Lock()
	session := b.sessionID
	b.mu.Unlock()
	if session != "" {
		req.Header.Set("Authorization", "Bearer "+session)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("broker: %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
