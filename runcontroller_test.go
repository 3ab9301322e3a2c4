package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortbreak/broker"
	"shortbreak/store"
)

func newNoopBroker(t *testing.T) broker.Broker {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/profile":
			json.NewEncoder(w).Encode(broker.Profile{UserID: "u1", UserName: "trader"})
		case "/portfolio/positions":
			json.NewEncoder(w).Encode(broker.Positions{})
		}
	}))
	t.Cleanup(srv.Close)
	return broker.NewRESTBroker(srv.URL, "key", "secret")
}

func newTestRunController(t *testing.T, cfg TradingConfig) *RunController {
	t.Helper()
	state := NewEngineState(cfg, 14400)
	ticks := NewLiveTickStore()
	ws := NewTickSession("ws://unused", ticks)

	dir := t.TempDir()
	wl, err := store.Open(dir + "/watchlist.db")
	require.NoError(t, err)
	t.Cleanup(func() { wl.Close() })

	b := newNoopBroker(t)
	elig := NewEligibilityClassifier(ws, ticks, wl, state, nil, dir+"/snapshot.json")
	return NewRunController(state, ws, ticks, wl, b, nil, elig, dir+"/snapshot.json")
}

func TestStartRejectsWithoutMaxMargin(t *testing.T) {
	rc := newTestRunController(t, TradingConfig{TargetPercent: 0.01, CandleIntervalMinutes: 15})
	err := rc.Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestStartRejectsWhenAlreadyRunning(t *testing.T) {
	rc := newTestRunController(t, TradingConfig{TargetPercent: 0.01, MaxMargin: 50000, CandleIntervalMinutes: 15})
	rc.state.StartRun("run-1")

	err := rc.Start(context.Background())
	assert.ErrorIs(t, err, ErrEngineAlreadyRunning)
}

func TestStartRejectsWhenNoStocksForToday(t *testing.T) {
	rc := newTestRunController(t, TradingConfig{TargetPercent: 0.01, MaxMargin: 50000, CandleIntervalMinutes: 15})
	err := rc.Start(context.Background())
	assert.ErrorIs(t, err, ErrNoStocksForToday)
}
