package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"shortbreak/broker"
	"shortbreak/metrics"
)

// PositionMonitor implements C7, grounded on
// original_source/position_manager.py::_monitor_position_loop. Precedence
// within one iteration is fixed: stop-loss (candle-close) before target
// (tick) before square-off (wall clock), per spec.md §4.7/§5.
type PositionMonitor struct {
	state    *EngineState
	ticks    *LiveTickStore
	brokerCl broker.Broker
	notifier Notifier
	agg      *CandleAggregator

	squareoffTime time.Time // hour/minute only
	pollInterval  time.Duration

	onClosed  func()
	onFailure func()
}

// onClosed fires once the exit order is confirmed and the position is
// marked closed. onFailure fires instead when the exit order submission
// itself fails: per spec.md §7 the run still must not stay wedged as
// Running, but the position is deliberately left open (closed=false) for
// an operator to reconcile by hand.
func NewPositionMonitor(state *EngineState, ticks *LiveTickStore, brokerCl broker.Broker, notifier Notifier, agg *CandleAggregator, squareoffTime time.Time, onClosed func(), onFailure func()) *PositionMonitor {
	return &PositionMonitor{
		state:         state,
		ticks:         ticks,
		brokerCl:      brokerCl,
		notifier:      notifier,
		agg:           agg,
		squareoffTime: squareoffTime,
		pollInterval:  1 * time.Second,
		onClosed:      onClosed,
		onFailure:     onFailure,
	}
}

func (m *PositionMonitor) Run(ctx context.Context, runID string, targetPercent float64) {
	m.state.SetStep(StepPositionMonitoringStarted)
	log.Info().Str("run_id", runID).Msg("position monitor: started")

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !m.state.MatchesRun(runID) {
			log.Info().Str("run_id", runID).Msg("position monitor: zombie exit, run_id no longer current")
			return
		}

		snap := m.state.Snapshot()
		pos := snap.Position
		if pos == nil || pos.Closed {
			return
		}

		tick, ok := m.ticks.Get(pos.Token)
		if !ok {
			continue
		}
		now := time.Now()

		m.agg.AddTick(pos.Token, tick.LastPrice, now)
		candle := m.agg.TickAndMaybeEmit(pos.Token, now)

		// (c) stop-loss on candle close — strictly before target.
		if candle != nil {
			if m.stopLossTripped(pos, candle.Close) {
				m.exitPosition(ctx, runID, pos, StepStopLossTriggered, "STOPLOSS HITTED", "🛑 STOP-LOSS")
				return
			}
		}

		// (d) target on every tick.
		targetPrice := targetPriceFor(pos.EntryPrice, pos.Side, targetPercent)
		if m.targetTripped(pos, targetPrice, tick.LastPrice) {
			m.exitPosition(ctx, runID, pos, StepTargetHit, "TARGET_HITTED", "🎯 TARGET HIT")
			return
		}

		// (e) square-off on wall clock, after both checks.
		if afterSquareoff(now, m.squareoffTime) {
			m.exitPosition(ctx, runID, pos, StepAutoSquareOff, "AUTO SQUARE OFF", "⏰ SQUARE-OFF")
			return
		}

		metrics.PositionPnL.Set(unrealizedPnL(pos, tick.LastPrice))
	}
}

// targetPriceFor implements spec.md §4.7: sign=-1 for SELL, +1 otherwise.
func targetPriceFor(entry float64, side string, targetPercent float64) float64 {
	sign := 1.0
	if side == broker.TransactionSell {
		sign = -1.0
	}
	return entry * (1 + sign*targetPercent)
}

func (m *PositionMonitor) targetTripped(pos *PositionTracker, targetPrice, lastPrice float64) bool {
	if pos.Side == broker.TransactionSell {
		return lastPrice <= targetPrice
	}
	return lastPrice >= targetPrice
}

// stopLossTripped uses sl = watchlist row's high, stored on the position
// at entry (or recovery) time. SELL trips when the candle closes above sl; BUY trips
// when it closes below.
func (m *PositionMonitor) stopLossTripped(pos *PositionTracker, close float64) bool {
	if pos.Side == broker.TransactionSell {
		return close > pos.StopLoss
	}
	return close < pos.StopLoss
}

func afterSquareoff(now, squareoff time.Time) bool {
	nowMinutes := now.Hour()*60 + now.Minute()
	cutMinutes := squareoff.Hour()*60 + squareoff.Minute()
	return nowMinutes >= cutMinutes
}

func unrealizedPnL(pos *PositionTracker, lastPrice float64) float64 {
	diff := pos.EntryPrice - lastPrice
	if pos.Side != broker.TransactionSell {
		diff = lastPrice - pos.EntryPrice
	}
	return diff * float64(pos.QtyRemaining)
}

// exitPosition re-queries the broker for the true remaining quantity
// (source of truth) and submits the opposite-side market order, per
// spec.md §4.7. Order-submission failure does not close the position —
// it notifies out-of-band so an operator can reconcile, per spec.md §7.
func (m *PositionMonitor) exitPosition(ctx context.Context, runID string, pos *PositionTracker, step CurrentStep, reason, notifyPrefix string) {
	positions, err := m.brokerCl.Positions(ctx)
	qty := pos.QtyRemaining
	if err == nil {
		for _, p := range positions.Net {
			if p.TradingSymbol == pos.Symbol && p.Quantity != 0 {
				qty = abs(p.Quantity)
				break
			}
		}
	}

	exitSide := broker.TransactionBuy
	if pos.Side == broker.TransactionBuy {
		exitSide = broker.TransactionSell
	}

	_, err = m.brokerCl.PlaceOrder(ctx, broker.PlaceOrderRequest{
		Variety:         broker.VarietyRegular,
		Exchange:        broker.ExchangeNSE,
		TradingSymbol:   pos.Symbol,
		TransactionType: exitSide,
		Quantity:        qty,
		Product:         broker.ProductMIS,
		Tag:             reason,
	})
	metrics.OrdersPlaced.WithLabelValues(exitSide, reason).Inc()
	if err != nil {
		log.Error().Err(err).Str("symbol", pos.Symbol).Str("reason", reason).Msg("position monitor: exit order failed, position left open for manual reconciliation")
		if m.notifier != nil {
			m.notifier.Notify(fmt.Sprintf("⚠️ %s exit order FAILED for %s: %v — reconcile manually", notifyPrefix, pos.Symbol, err))
		}
		// Leave position_status.closed=false for manual reconciliation (I7
		// exception, spec.md §7), but the run itself must still exit to Idle
		// and release the Tick Session rather than stay wedged as Running.
		m.state.StopRun()
		if m.onFailure != nil {
			m.onFailure()
		}
		return
	}

	m.state.MarkPositionClosed()
	m.state.SetStep(step)
	m.state.StopRun()

	log.Info().Str("symbol", pos.Symbol).Str("reason", reason).Msg("position monitor: position closed")
	if m.notifier != nil {
		m.notifier.Notify(fmt.Sprintf("%s: %s closed (%s)", notifyPrefix, pos.Symbol, reason))
	}
	if m.onClosed != nil {
		m.onClosed()
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
