package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSecret(t *testing.T) string {
	t.Helper()
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "shortbreak", AccountName: "test"})
	require.NoError(t, err)
	return key.Secret()
}

func TestEnsureSessionDerivesTokenViaTOTP(t *testing.T) {
	secret := newTestSecret(t)
	var sawTOTP string
	var profileCalls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/profile":
			profileCalls++
			if profileCalls == 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(Profile{UserID: "u1", UserName: "trader"})
		case "/session/token":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			sawTOTP = body["totp"]
			json.NewEncoder(w).Encode(map[string]string{"session_token": "tok-123"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	b := NewRESTBroker(srv.URL, "key", secret)
	err := b.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, sawTOTP)
	assert.Equal(t, "tok-123", b.sessionID)

	p, err := b.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "trader", p.UserName)
}

func TestPlaceOrderDefaultsOrderTypeAndValidity(t *testing.T) {
	var captured PlaceOrderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]string{"order_id": "ord-1"})
	}))
	defer srv.Close()

	b := NewRESTBroker(srv.URL, "key", "secret")
	id, err := b.PlaceOrder(context.Background(), PlaceOrderRequest{
		Variety:         VarietyRegular,
		Exchange:        ExchangeNSE,
		TradingSymbol:   "RELI",
		TransactionType: TransactionSell,
		Quantity:        5,
		Product:         ProductMIS,
		Tag:             "ALGO_TRADE",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", id)
	assert.Equal(t, OrderTypeMkt, captured.OrderType)
	assert.Equal(t, ValidityDay, captured.Validity)
}

func TestMarginsAndPositionsDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/margins":
			w.Write([]byte(`{"equity":{"available":{"cash":50000},"net":50000}}`))
		case "/portfolio/positions":
			w.Write([]byte(`{"net":[{"instrument_token":100,"tradingsymbol":"RELI","quantity":-10,"average_price":100}]}`))
		}
	}))
	defer srv.Close()

	b := NewRESTBroker(srv.URL, "key", "secret")
	m, err := b.Margins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50000.0, m.Equity.Available.Cash)

	pos, err := b.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, pos.Net, 1)
	assert.Equal(t, -10, pos.Net[0].Quantity)
}
