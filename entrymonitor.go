package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"shortbreak/broker"
	"shortbreak/metrics"
)

// EntryMonitor implements C5. Its loop-guard idiom (run_id + is_running,
// checked every iteration) is synthesized from
// original_source/position_manager.py::_monitor_position_loop — the
// sibling loop whose body *was* retrieved in full — since
// start_trading.py's own _monitor_trades body was referenced but not
// retrieved (see DESIGN.md). The goroutine-per-phase shape follows the
// teacher's PredatorWorker.
type EntryMonitor struct {
	state    *EngineState
	ticks    *LiveTickStore
	brokerCl broker.Broker
	notifier Notifier

	onEntryFilled func(pos *PositionTracker)
	onFailure     func()

	pollInterval time.Duration
}

// onFailure is invoked whenever a background error keeps the monitor from
// reaching a fill — it must still tear the run down to Idle (spec.md §7:
// "Errors inside background monitors are logged and cause the task to exit
// cleanly, transitioning the engine to Idle (not Running)"), typically by
// stopping the Tick Session.
func NewEntryMonitor(state *EngineState, ticks *LiveTickStore, brokerCl broker.Broker, notifier Notifier, onEntryFilled func(*PositionTracker), onFailure func()) *EntryMonitor {
	return &EntryMonitor{
		state:         state,
		ticks:         ticks,
		brokerCl:      brokerCl,
		notifier:      notifier,
		onEntryFilled: onEntryFilled,
		onFailure:     onFailure,
		pollInterval:  1 * time.Second,
	}
}

// Run polls the eligible list at 1Hz in insertion order, firing exactly
// one SELL order on the first row whose last tick satisfies
// last_price >= row.high. Terminates on order fill, session timeout, a
// run_id mismatch (zombie exit), or is_running being cleared.
func (m *EntryMonitor) Run(ctx context.Context, runID string, eligible []Classification) {
	m.state.SetStep(StepOrderMonitoringStarted)
	log.Info().Str("run_id", runID).Int("eligible_count", len(eligible)).Msg("entry monitor: started")

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !m.state.MatchesRun(runID) {
			log.Info().Str("run_id", runID).Msg("entry monitor: zombie exit, run_id no longer current")
			return
		}

		snap := m.state.Snapshot()
		if snap.SessionStartTime.IsZero() {
			continue
		}
		if time.Since(snap.SessionStartTime) > time.Duration(snap.SessionMaxSeconds)*time.Second {
			m.state.StopRun()
			m.state.SetStatus(StatusTimeout)
			log.Warn().Str("run_id", runID).Msg("entry monitor: session timed out")
			return
		}

		for _, c := range eligible {
			tick, ok := m.ticks.Get(c.Row.InstrumentToken)
			if !ok {
				continue
			}
			if tick.LastPrice >= c.Row.High {
				m.fireEntry(ctx, runID, c, tick.LastPrice)
				return
			}
		}
	}
}

// fireEntry computes the quantity per spec.md §4.5's rule and submits the
// single SELL market order (I6).
func (m *EntryMonitor) fireEntry(ctx context.Context, runID string, c Classification, lastPrice float64) {
	snap := m.state.Snapshot()

	margins, err := m.brokerCl.Margins(ctx)
	if err != nil {
		log.Error().Err(err).Msg("entry monitor: margins lookup failed")
		m.fail(runID)
		return
	}

	capital := margins.Equity.Available.Cash
	if capital > snap.Config.MaxMargin {
		capital = snap.Config.MaxMargin
	}
	capital -= 500 // reserve, per spec.md §4.5

	qty := int(capital * 5 / lastPrice)
	if qty < 1 {
		qty = 1
	}
	qty |= 1 // force odd — spec adopts the odd-round-up rule, see DESIGN.md §9

	orderID, err := m.brokerCl.PlaceOrder(ctx, broker.PlaceOrderRequest{
		Variety:         broker.VarietyRegular,
		Exchange:        broker.ExchangeNSE,
		TradingSymbol:   c.Row.Symbol,
		TransactionType: broker.TransactionSell,
		Quantity:        qty,
		Product:         broker.ProductMIS,
		Tag:             "SHORTBREAK_ENTRY",
	})
	metrics.OrdersPlaced.WithLabelValues(broker.TransactionSell, "ENTRY").Inc()
	if err != nil {
		log.Error().Err(err).Str("symbol", c.Row.Symbol).Msg("entry monitor: order submission failed")
		if m.notifier != nil {
			m.notifier.Notify(fmt.Sprintf("⚠️ Order submission failed for %s: %v", c.Row.Symbol, err))
		}
		m.fail(runID)
		return
	}

	m.state.SetOrderPlaced(true)
	m.state.SetStep(StepOrderPlaced)

	pos := &PositionTracker{
		Symbol:       c.Row.Symbol,
		Token:        c.Row.InstrumentToken,
		Side:         broker.TransactionSell,
		EntryPrice:   lastPrice,
		QtyRemaining: qty,
		StopLoss:     c.Row.High,
	}
	m.state.SetPosition(pos)

	log.Info().Str("order_id", orderID).Str("symbol", c.Row.Symbol).Int("qty", qty).Msg("entry monitor: SELL order placed")
	if m.notifier != nil {
		m.notifier.Notify(fmt.Sprintf("✅ ENTRY: SELL %s qty=%d @ %.2f", c.Row.Symbol, qty, lastPrice))
	}

	if m.onEntryFilled != nil {
		m.onEntryFilled(pos)
	}
}

// fail transitions the run to Idle and releases the Tick Session after a
// background error, per spec.md §7 — the monitor must not exit leaving
// is_running/Status wedged as Running.
func (m *EntryMonitor) fail(runID string) {
	m.state.StopRun()
	if m.onFailure != nil {
		m.onFailure()
	}
	log.Warn().Str("run_id", runID).Msg("entry monitor: exiting to Idle after background error")
}
