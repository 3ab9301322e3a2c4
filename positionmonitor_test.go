package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortbreak/broker"
)

func newRecordingBroker(t *testing.T, positionsQty int) (broker.Broker, *[]broker.PlaceOrderRequest) {
	t.Helper()
	var orders []broker.PlaceOrderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/portfolio/positions":
			json.NewEncoder(w).Encode(broker.Positions{Net: []broker.Position{
				{InstrumentToken: 100, TradingSymbol: "RELI", Quantity: positionsQty, AveragePrice: 100},
			}})
		case "/orders/regular":
			var req broker.PlaceOrderRequest
			json.NewDecoder(r.Body).Decode(&req)
			orders = append(orders, req)
			json.NewEncoder(w).Encode(map[string]string{"order_id": "ord-exit"})
		}
	}))
	t.Cleanup(srv.Close)
	return broker.NewRESTBroker(srv.URL, "key", "secret"), &orders
}

func newOpenShortPosition() *PositionTracker {
	return &PositionTracker{
		Symbol: "RELI", Token: 100, Side: broker.TransactionSell,
		EntryPrice: 100, QtyRemaining: 10, StopLoss: 100,
	}
}

// Scenario 5: target hit (SELL).
func TestPositionMonitorTargetHitSell(t *testing.T) {
	state := NewEngineState(TradingConfig{}, 14400)
	state.StartRun("run-1")
	state.SetPosition(newOpenShortPosition())

	ticks := NewLiveTickStore()
	b, orders := newRecordingBroker(t, -10)
	agg := NewCandleAggregator(15, time.Now())
	squareoff, _ := time.Parse("15:04", "15:00")

	closed := make(chan struct{})
	pm := NewPositionMonitor(state, ticks, b, nil, agg, squareoff, func() { close(closed) }, nil)
	pm.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		for _, p := range []float64{99.5, 99.0, 98.5} {
			price := p
			ticks.Merge(100, TickUpdate{LastPrice: &price})
			time.Sleep(20 * time.Millisecond)
		}
	}()

	pm.Run(ctx, "run-1", 0.01)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("position never closed")
	}
	require.Len(t, *orders, 1)
	assert.Equal(t, broker.TransactionBuy, (*orders)[0].TransactionType)
	assert.Equal(t, 10, (*orders)[0].Quantity)

	snap := state.Snapshot()
	assert.True(t, snap.Position.Closed)
	assert.False(t, snap.IsRunning)
}

// Exit-order submission failure must still return the engine to Idle and
// release the Tick Session, but must leave the position open for manual
// reconciliation (spec.md §7's exception to I7).
func TestPositionMonitorExitOrderFailureLeavesPositionOpenButReturnsToIdle(t *testing.T) {
	state := NewEngineState(TradingConfig{}, 14400)
	state.StartRun("run-1")
	state.SetPosition(newOpenShortPosition())

	ticks := NewLiveTickStore()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/portfolio/positions":
			json.NewEncoder(w).Encode(broker.Positions{Net: []broker.Position{
				{InstrumentToken: 100, TradingSymbol: "RELI", Quantity: -10, AveragePrice: 100},
			}})
		case "/orders/regular":
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()
	b := broker.NewRESTBroker(srv.URL, "key", "secret")

	agg := NewCandleAggregator(15, time.Now())
	squareoff, _ := time.Parse("15:04", "15:00")

	torndown := make(chan struct{}, 1)
	pm := NewPositionMonitor(state, ticks, b, nil, agg, squareoff, nil, func() { torndown <- struct{}{} })
	pm.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	price := 99.0
	ticks.Merge(100, TickUpdate{LastPrice: &price})

	pm.Run(ctx, "run-1", 0.01)

	select {
	case <-torndown:
	case <-time.After(2 * time.Second):
		t.Fatal("onFailure never invoked after exit order failure")
	}

	snap := state.Snapshot()
	assert.False(t, snap.IsRunning)
	assert.Equal(t, StatusIdle, snap.Status)
	require.NotNil(t, snap.Position)
	assert.False(t, snap.Position.Closed)
}

// Scenario 6: stop-loss trips on candle close, not on the intra-candle wick.
func TestPositionMonitorStopLossOnCandleCloseOnly(t *testing.T) {
	now := time.Date(2026, 7, 29, 9, 15, 0, 0, time.Local)
	agg := NewCandleAggregator(15, now)
	pos := newOpenShortPosition() // StopLoss = 100

	// A wick to 101 mid-period must not trip anything — the monitor only
	// evaluates stop-loss against a newly CLOSED candle.
	agg.AddTick(100, 101.0, now.Add(1*time.Minute))
	candle := agg.TickAndMaybeEmit(100, now.Add(5*time.Minute))
	assert.Nil(t, candle) // period not yet closed

	agg.AddTick(100, 100.5, now.Add(14*time.Minute))
	closed := agg.TickAndMaybeEmit(100, now.Add(15*time.Minute))
	require.NotNil(t, closed)
	assert.Equal(t, 100.5, closed.Close)

	pm := &PositionMonitor{}
	assert.True(t, pm.stopLossTripped(pos, closed.Close))
}

func TestTargetPriceForSellAndBuy(t *testing.T) {
	assert.InDelta(t, 99.0, targetPriceFor(100, broker.TransactionSell, 0.01), 1e-9)
	assert.InDelta(t, 101.0, targetPriceFor(100, broker.TransactionBuy, 0.01), 1e-9)
}

func TestAfterSquareoff(t *testing.T) {
	cut, _ := time.Parse("15:04", "15:00")
	before := time.Date(2026, 7, 29, 14, 59, 0, 0, time.Local)
	at := time.Date(2026, 7, 29, 15, 0, 0, 0, time.Local)
	assert.False(t, afterSquareoff(before, cut))
	assert.True(t, afterSquareoff(at, cut))
}
