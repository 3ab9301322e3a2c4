package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// wireTick is the on-wire shape of one incoming partial packet from the
// market-data feed — the Go counterpart of the ticks original_source's
// service_ws.py::on_ticks receives from KiteTicker.
type wireTick struct {
	Token     int64      `json:"instrument_token"`
	LastPrice *float64   `json:"last_price"`
	OHLC      *wireOHLC  `json:"ohlc"`
	Volume    *int64     `json:"volume"`
	Depth     *wireDepth `json:"depth"`
	Timestamp *time.Time `json:"timestamp"`
}

type wireOHLC struct {
	Open  *float64 `json:"open"`
	High  *float64 `json:"high"`
	Low   *float64 `json:"low"`
	Close *float64 `json:"close"`
}

type wireDepth struct {
	Buy  []DepthLevel `json:"buy"`
	Sell []DepthLevel `json:"sell"`
}

func (w wireTick) toUpdate() TickUpdate {
	u := TickUpdate{
		LastPrice: w.LastPrice,
		Volume:    w.Volume,
		Timestamp: w.Timestamp,
	}
	if w.OHLC != nil {
		u.OHLC = OHLCUpdate{Open: w.OHLC.Open, High: w.OHLC.High, Low: w.OHLC.Low, Close: w.OHLC.Close}
	}
	if w.Depth != nil {
		u.Depth = DepthUpdate{Buy: w.Depth.Buy, Sell: w.Depth.Sell}
	}
	return u
}

// dialFunc abstracts the websocket dial so tests can point it at an
// in-process httptest server instead of a real feed.
type dialFunc func(url string, header http.Header) (*websocket.Conn, error)

// TickSession manages the single live connection to the market-data
// service, per spec.md §4.2. All operations are serialized under an
// internal mutex; the three flags {configured, running, connected} form
// the small machine the spec describes, generalized from the teacher's
// PredatorWorker connect/read-loop shape but — per spec.md §4.2's
// explicit requirement — without PredatorWorker's automatic retry-dial:
// on failure the session resets fully to (false,false,false) and waits
// for the Run Controller to re-setup.
type TickSession struct {
	mu sync.Mutex

	configured bool
	running    bool
	connected  bool

	conn   *websocket.Conn
	killCh chan struct{}

	subscribed []int64

	url          string
	dial         dialFunc
	store        *LiveTickStore
	apiKeyHeader http.Header

	onReconnectFailed func()
}

func NewTickSession(url string, store *LiveTickStore) *TickSession {
	return &TickSession{
		url:   url,
		store: store,
		dial: func(u string, header http.Header) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.Dial(u, header)
			return conn, err
		},
	}
}

// Setup constructs the feed client. It is a no-op failure if a session
// is already configured — callers must Stop first.
func (t *TickSession) Setup(apiKey, sessionToken, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.configured {
		return false
	}
	t.configured = true
	t.apiKeyHeader = http.Header{
		"X-Api-Key":     []string{apiKey},
		"X-Session":     []string{sessionToken},
		"X-User-Id":     []string{userID},
	}
	return true
}

func (t *TickSession) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *TickSession) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Start is non-blocking: it spawns the feed goroutine and returns
// immediately. Connected flips true only once the dial succeeds.
func (t *TickSession) Start() bool {
	t.mu.Lock()
	if !t.configured || t.running {
		t.mu.Unlock()
		return false
	}
	t.running = true
	t.killCh = make(chan struct{})
	kill := t.killCh
	header := t.apiKeyHeader
	t.mu.Unlock()

	go t.run(header, kill)
	return true
}

func (t *TickSession) run(header http.Header, kill chan struct{}) {
	conn, err := t.dial(t.url, header)
	if err != nil {
		log.Warn().Err(err).Msg("tick session: dial failed")
		t.resetAfterFailure()
		return
	}

	t.mu.Lock()
	if t.killCh != kill {
		// Stop already raced us; discard this connection.
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.connected = true
	t.mu.Unlock()

	log.Info().Msg("tick session: connected")

	for {
		select {
		case <-kill:
			conn.Close()
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			stale := t.killCh != kill
			t.mu.Unlock()
			if stale {
				// Stop already tore this session down; a newer one may be
				// live and must not be reset by this goroutine.
				return
			}
			log.Warn().Err(err).Msg("tick session: read error, tearing down")
			t.resetAfterFailure()
			return
		}

		var batch []wireTick
		if err := json.Unmarshal(data, &batch); err != nil {
			// Tolerate a single malformed packet without killing the feed.
			continue
		}
		for _, wt := range batch {
			t.store.Merge(wt.Token, wt.toUpdate())
		}
	}
}

// resetAfterFailure implements spec.md §4.2's failure transition: straight
// back to (false,false,false), no auto-reconnect.
func (t *TickSession) resetAfterFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.conn = nil
	t.configured = false
	t.running = false
	t.connected = false
	if t.onReconnectFailed != nil {
		t.onReconnectFailed()
	}
}

// Subscribe is a no-op unless connected.
func (t *TickSession) Subscribe(tokens []int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return false
	}
	t.subscribed = tokens

	msg, _ := json.Marshal(map[string]interface{}{"action": "subscribe", "tokens": tokens})
	if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return false
	}
	return true
}

// Stop tears the session fully down to (false,false,false), safe to call
// at any point in the machine.
func (t *TickSession) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.killCh != nil {
		close(t.killCh)
		t.killCh = nil
	}
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.configured = false
	t.running = false
	t.connected = false
	t.subscribed = nil
	t.store.Clear()
	return true
}
