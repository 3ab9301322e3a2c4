package main

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFeedServer(t *testing.T, onConn func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		onConn(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	return u.String()
}

func TestTickSessionMachineHappyPath(t *testing.T) {
	srv := newFeedServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`[{"instrument_token":100,"last_price":95.5,"ohlc":{"open":85}}]`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	store := NewLiveTickStore()
	ts := NewTickSession(wsURL(t, srv), store)

	assert.True(t, ts.Setup("key", "session", "user"))
	assert.False(t, ts.Setup("key", "session", "user")) // already configured
	assert.True(t, ts.Start())

	require.Eventually(t, func() bool { return ts.Connected() }, time.Second, 10*time.Millisecond)
	assert.True(t, ts.Subscribe([]int64{100}))

	require.Eventually(t, func() bool {
		tick, ok := store.Get(100)
		return ok && tick.LastPrice == 95.5
	}, time.Second, 10*time.Millisecond)

	assert.True(t, ts.Stop())
	assert.False(t, ts.Connected())
	assert.False(t, ts.Running())
}

func TestTickSessionSubscribeNoOpUnlessConnected(t *testing.T) {
	ts := NewTickSession("ws://unused.invalid", NewLiveTickStore())
	assert.False(t, ts.Subscribe([]int64{1}))
}

func TestTickSessionDialFailureResetsMachine(t *testing.T) {
	ts := NewTickSession("ws://127.0.0.1:1/does-not-exist", NewLiveTickStore())
	ts.Setup("key", "session", "user")
	ts.Start()

	require.Eventually(t, func() bool {
		return !ts.Running() && !ts.Connected()
	}, time.Second, 10*time.Millisecond)
}

func TestMergeTickIsNonDestructive(t *testing.T) {
	store := NewLiveTickStore()
	open := 85.0
	store.Merge(100, TickUpdate{OHLC: OHLCUpdate{Open: &open}})

	last := 95.0
	store.Merge(100, TickUpdate{LastPrice: &last})

	tick, ok := store.Get(100)
	require.True(t, ok)
	assert.Equal(t, 85.0, tick.OHLC.Open)
	assert.Equal(t, 95.0, tick.LastPrice)
}

// R3: merging an empty packet leaves the stored tick bit-identical.
func TestMergeEmptyPacketIsIdentity(t *testing.T) {
	store := NewLiveTickStore()
	last := 95.0
	open := 85.0
	store.Merge(100, TickUpdate{LastPrice: &last, OHLC: OHLCUpdate{Open: &open}})
	before, _ := store.Get(100)

	store.Merge(100, TickUpdate{})
	after, _ := store.Get(100)

	assert.Equal(t, before, after)
}
