package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortbreak/broker"
	"shortbreak/store"
)

func newTestBroker(t *testing.T, cash float64, placeOrderCalls *int) broker.Broker {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/margins":
			w.Write([]byte(`{"equity":{"available":{"cash":` + strconv.FormatFloat(cash, 'f', -1, 64) + `},"net":0}}`))
		case "/orders/regular":
			*placeOrderCalls++
			w.Write([]byte(`{"order_id":"ord-1"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return broker.NewRESTBroker(srv.URL, "key", "secret")
}

func TestEntryMonitorFiresExactlyOnceOnBreakout(t *testing.T) {
	state := NewEngineState(TradingConfig{MaxMargin: 100000}, 14400)
	state.StartRun("run-1")
	ticks := NewLiveTickStore()

	var placeCalls int
	b := newTestBroker(t, 100000, &placeCalls)

	eligible := []Classification{
		{Kind: KindEligible, Row: store.WatchlistRow{Symbol: "RELI", InstrumentToken: 100, High: 100, Low: 90}},
	}

	filled := make(chan *PositionTracker, 1)
	em := NewEntryMonitor(state, ticks, b, nil, func(pos *PositionTracker) { filled <- pos }, nil)
	em.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		last := 97.0
		ticks.Merge(100, TickUpdate{LastPrice: &last})
		time.Sleep(30 * time.Millisecond)
		last = 99.0
		ticks.Merge(100, TickUpdate{LastPrice: &last})
		time.Sleep(30 * time.Millisecond)
		last = 101.0
		ticks.Merge(100, TickUpdate{LastPrice: &last})
	}()

	em.Run(ctx, "run-1", eligible)

	select {
	case pos := <-filled:
		assert.Equal(t, "RELI", pos.Symbol)
		assert.Equal(t, 1, placeCalls)
	case <-time.After(2 * time.Second):
		t.Fatal("entry never fired")
	}
}

func TestEntryMonitorOrderFailureReturnsEngineToIdle(t *testing.T) {
	state := NewEngineState(TradingConfig{MaxMargin: 100000}, 14400)
	state.StartRun("run-1")
	ticks := NewLiveTickStore()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/margins":
			w.Write([]byte(`{"equity":{"available":{"cash":100000},"net":0}}`))
		case "/orders/regular":
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()
	b := broker.NewRESTBroker(srv.URL, "key", "secret")

	eligible := []Classification{
		{Kind: KindEligible, Row: store.WatchlistRow{Symbol: "RELI", InstrumentToken: 100, High: 100, Low: 90}},
	}

	torndown := make(chan struct{}, 1)
	em := NewEntryMonitor(state, ticks, b, nil, nil, func() { torndown <- struct{}{} })
	em.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	last := 101.0
	ticks.Merge(100, TickUpdate{LastPrice: &last})

	em.Run(ctx, "run-1", eligible)

	select {
	case <-torndown:
	case <-time.After(2 * time.Second):
		t.Fatal("onFailure never invoked after order submission failure")
	}

	snap := state.Snapshot()
	assert.False(t, snap.IsRunning)
	assert.Equal(t, StatusIdle, snap.Status)
}

func TestEntryMonitorExitsOnRunIDMismatch(t *testing.T) {
	state := NewEngineState(TradingConfig{MaxMargin: 100000}, 14400)
	state.StartRun("run-1")
	ticks := NewLiveTickStore()

	var placeCalls int
	b := newTestBroker(t, 100000, &placeCalls)

	eligible := []Classification{
		{Kind: KindEligible, Row: store.WatchlistRow{Symbol: "RELI", InstrumentToken: 100, High: 100, Low: 90}},
	}

	em := NewEntryMonitor(state, ticks, b, nil, nil, nil)
	em.pollInterval = 10 * time.Millisecond

	ctx := context.Background()
	state.StartRun("run-2") // a newer run supersedes run-1

	done := make(chan struct{})
	go func() {
		em.Run(ctx, "run-1", eligible)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("zombie entry monitor did not exit")
	}
	require.Equal(t, 0, placeCalls)
}
