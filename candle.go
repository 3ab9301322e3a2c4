package main

import (
	"sync"
	"time"
)

// marketOpenHour/Minute is the 09:15 local session-open anchor spec.md §3
// requires candle alignment to never drift from.
const (
	marketOpenHour   = 9
	marketOpenMinute = 15
)

// Candle is one closed, fixed-interval OHLC aggregate, per spec.md §3/§4.6.
type Candle struct {
	Token       int64
	PeriodStart time.Time
	PeriodEnd   time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	TickCount   int
}

type tickPoint struct {
	ts    time.Time
	price float64
}

// candleBuffer is the per-token transient aggregator of spec.md §3.
type candleBuffer struct {
	periodStart time.Time
	periodEnd   time.Time
	ticks       []tickPoint
}

// CandleAggregator accumulates ticks into fixed-N-minute candles aligned
// to market open, grounded verbatim on original_source/position_manager.py's
// _init_candle_buffer / _compute_and_clear_candle_if_period_finished pair.
// Period boundaries advance monotonically from market open (never via
// repeated now-minus-last-end deltas), satisfying I5.
type CandleAggregator struct {
	mu         sync.Mutex
	interval   time.Duration
	marketOpen time.Time
	buffers    map[int64]*candleBuffer
}

// NewCandleAggregator anchors marketOpen at 09:15 local on today's date
// from the caller's perspective of "now".
func NewCandleAggregator(intervalMinutes int, now time.Time) *CandleAggregator {
	return &CandleAggregator{
		interval:   time.Duration(intervalMinutes) * time.Minute,
		marketOpen: marketOpenOn(now),
		buffers:    make(map[int64]*candleBuffer),
	}
}

func marketOpenOn(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), marketOpenHour, marketOpenMinute, 0, 0, now.Location())
}

// currentPeriod implements spec.md §3's alignment rule: if now is before
// market open, the first period starts at market open; otherwise it is
// the largest marketOpen + k*interval not exceeding now.
func (a *CandleAggregator) currentPeriod(now time.Time) (start, end time.Time) {
	if now.Before(a.marketOpen) {
		return a.marketOpen, a.marketOpen.Add(a.interval)
	}
	elapsed := now.Sub(a.marketOpen)
	k := elapsed / a.interval
	start = a.marketOpen.Add(k * a.interval)
	return start, start.Add(a.interval)
}

func (a *CandleAggregator) bufferFor(token int64, now time.Time) *candleBuffer {
	b, ok := a.buffers[token]
	if !ok {
		start, end := a.currentPeriod(now)
		b = &candleBuffer{periodStart: start, periodEnd: end}
		a.buffers[token] = b
	}
	return b
}

// AddTick appends a tick to token's current period, initialising the
// buffer on first use.
func (a *CandleAggregator) AddTick(token int64, price float64, ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.bufferFor(token, ts)
	b.ticks = append(b.ticks, tickPoint{ts: ts, price: price})
}

// TickAndMaybeEmit is called at ≥1Hz; if the current period has elapsed
// it emits the closed candle (or nil if the period saw zero ticks) and
// always advances the period boundaries — the monotonic advance spec.md
// §9 requires.
func (a *CandleAggregator) TickAndMaybeEmit(token int64, now time.Time) *Candle {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.bufferFor(token, now)
	if now.Before(b.periodEnd) {
		return nil
	}

	var candle *Candle
	if len(b.ticks) > 0 {
		candle = &Candle{
			Token:       token,
			PeriodStart: b.periodStart,
			PeriodEnd:   b.periodEnd,
			Open:        b.ticks[0].price,
			Close:       b.ticks[len(b.ticks)-1].price,
			TickCount:   len(b.ticks),
		}
		candle.High, candle.Low = b.ticks[0].price, b.ticks[0].price
		for _, tp := range b.ticks {
			if tp.price > candle.High {
				candle.High = tp.price
			}
			if tp.price < candle.Low {
				candle.Low = tp.price
			}
		}
	}

	b.periodStart = b.periodEnd
	b.periodEnd = b.periodStart.Add(a.interval)
	b.ticks = nil

	return candle
}
