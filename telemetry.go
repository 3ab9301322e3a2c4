package main

import (
	"time"
)

// PriceRow is one row of the "no active position" price feed shape, per
// spec.md §4.9 / original_source/websocket/logic_price.py.
type PriceRow struct {
	Symbol              string  `json:"symbol"`
	Last                float64 `json:"last"`
	Open                float64 `json:"open"`
	High                float64 `json:"high"`
	Low                 float64 `json:"low"`
	ChangePercent       float64 `json:"change_percent"`
	QuantityIfOrdered   int     `json:"quantity_if_ordered"`
	PointsToTrigger     float64 `json:"points_to_trigger"`
	PercentToTrigger    float64 `json:"percent_to_trigger"`
	Time                string  `json:"time"`
}

// PositionRow is the single-row shape emitted while a position is open.
type PositionRow struct {
	Symbol                 string  `json:"symbol"`
	Quantity               int     `json:"quantity"`
	AveragePrice           float64 `json:"average_price"`
	LastPrice              float64 `json:"last_price"`
	PnL                    float64 `json:"pnl"`
	PnLPercent             float64 `json:"pnl_percent"`
	TargetPercentRemaining float64 `json:"target_percent_remaining"`
}

// PriceFeedPayload is the full /ws/price message.
type PriceFeedPayload struct {
	Type     string        `json:"type"`
	Position *PositionRow  `json:"position,omitempty"`
	Feed     []PriceRow    `json:"feed,omitempty"`
}

// StatusFeedPayload is the full /ws/status message, per spec.md §4.9.
type StatusFeedPayload struct {
	Type                string `json:"type"`
	LoggedIn            bool   `json:"logged_in"`
	UserName            string `json:"user_name"`
	IsRunning           bool   `json:"is_running"`
	EngineStatus        string `json:"engine_status"`
	CurrentStep         string `json:"current_step"`
	OrderPlaced         bool   `json:"order_placed"`
	Positions           int    `json:"positions"`
	RunID               string `json:"run_id"`
	EligibleStocksCount int    `json:"eligible_stocks_count"`
	RemainingSeconds    int    `json:"remaining_seconds"`
}

// TelemetryEmitter runs the two 1Hz feeds of C9 over the teacher's hub,
// grounded on original_source/websocket/logic_price.py and logic_status.py
// for payload shape.
type TelemetryEmitter struct {
	state     *EngineState
	ticks     *LiveTickStore
	priceHub  *Hub
	statusHub *Hub
	interval  time.Duration
}

func NewTelemetryEmitter(state *EngineState, ticks *LiveTickStore, priceHub, statusHub *Hub) *TelemetryEmitter {
	return &TelemetryEmitter{
		state:     state,
		ticks:     ticks,
		priceHub:  priceHub,
		statusHub: statusHub,
		interval:  1 * time.Second,
	}
}

// Run blocks, pushing each feed every interval while at least one
// consumer is subscribed to that feed's hub, per spec.md §4.9.
func (t *TelemetryEmitter) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		snap := t.state.Snapshot()

		if t.priceHub.HasSubscribers() {
			t.priceHub.Broadcast(t.buildPricePayload(snap))
		}
		if t.statusHub.HasSubscribers() {
			t.statusHub.Broadcast(t.buildStatusPayload(snap))
		}
	}
}

func (t *TelemetryEmitter) buildPricePayload(snap StateSnapshot) PriceFeedPayload {
	if snap.Position != nil && !snap.Position.Closed {
		tick, _ := t.ticks.Get(snap.Position.Token)
		pnl := unrealizedPnL(snap.Position, tick.LastPrice)
		pnlPercent := 0.0
		if snap.Position.EntryPrice != 0 {
			pnlPercent = pnl / (snap.Position.EntryPrice * float64(snap.Position.QtyRemaining)) * 100
		}
		targetPrice := targetPriceFor(snap.Position.EntryPrice, snap.Position.Side, snap.Config.TargetPercent)
		remaining := targetPrice - tick.LastPrice
		if snap.Position.Side != "SELL" {
			remaining = tick.LastPrice - targetPrice
		}
		return PriceFeedPayload{
			Type: "feed_update",
			Position: &PositionRow{
				Symbol:                 snap.Position.Symbol,
				Quantity:               snap.Position.QtyRemaining,
				AveragePrice:           snap.Position.EntryPrice,
				LastPrice:              tick.LastPrice,
				PnL:                    pnl,
				PnLPercent:             pnlPercent,
				TargetPercentRemaining: remaining,
			},
		}
	}

	var feed []PriceRow
	if snap.EligibilityResult != nil {
		for _, c := range snap.EligibilityResult.Eligible {
			tick, _ := t.ticks.Get(c.Row.InstrumentToken)
			changePercent := 0.0
			if tick.OHLC.Close != 0 {
				changePercent = round2((tick.LastPrice - tick.OHLC.Close) / tick.OHLC.Close * 100)
			}
			pointsToTrigger := c.Row.High - tick.LastPrice
			percentToTrigger := 0.0
			if tick.LastPrice != 0 {
				percentToTrigger = round2(pointsToTrigger / tick.LastPrice * 100)
			}
			qty := 0
			if snap.Config.MaxMargin > 0 && tick.LastPrice > 0 {
				qty = int(snap.Config.MaxMargin / (tick.LastPrice / 5))
			}
			feed = append(feed, PriceRow{
				Symbol:            c.Row.Symbol,
				Last:              tick.LastPrice,
				Open:              tick.OHLC.Open,
				High:              c.Row.High,
				Low:               c.Row.Low,
				ChangePercent:     changePercent,
				QuantityIfOrdered: qty,
				PointsToTrigger:   pointsToTrigger,
				PercentToTrigger:  percentToTrigger,
				Time:              time.Now().Format(time.RFC3339),
			})
		}
	}
	return PriceFeedPayload{Type: "feed_update", Feed: feed}
}

func (t *TelemetryEmitter) buildStatusPayload(snap StateSnapshot) StatusFeedPayload {
	positions := 0
	if snap.Position != nil && !snap.Position.Closed {
		positions = 1
	}
	eligibleCount := 0
	if snap.EligibilityResult != nil {
		eligibleCount = len(snap.EligibilityResult.Eligible)
	}
	return StatusFeedPayload{
		Type:                "feed_update",
		LoggedIn:            snap.LoggedIn,
		UserName:            snap.UserName,
		IsRunning:           snap.IsRunning,
		EngineStatus:        string(snap.Status),
		CurrentStep:         string(snap.CurrentStep),
		OrderPlaced:         snap.OrderPlaced,
		Positions:           positions,
		RunID:               snap.RunID,
		EligibleStocksCount: eligibleCount,
		RemainingSeconds:    snap.RemainingSeconds(),
	}
}
