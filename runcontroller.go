package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"shortbreak/broker"
	"shortbreak/metrics"
	"shortbreak/store"
)

// RunController implements C8: start/stop entry points, at-most-one-run
// enforcement via run_id, orchestration of C2-C7. Grounded on
// original_source/start_trading.py.
type RunController struct {
	state     *EngineState
	ws        *TickSession
	ticks     *LiveTickStore
	watchlist *store.WatchlistStore
	brokerCl  broker.Broker
	notifier  Notifier
	elig      *EligibilityClassifier
	snapshotPath string

	cancel context.CancelFunc
}

func NewRunController(state *EngineState, ws *TickSession, ticks *LiveTickStore, watchlist *store.WatchlistStore, brokerCl broker.Broker, notifier Notifier, elig *EligibilityClassifier, snapshotPath string) *RunController {
	return &RunController{
		state:        state,
		ws:           ws,
		ticks:        ticks,
		watchlist:    watchlist,
		brokerCl:     brokerCl,
		notifier:     notifier,
		elig:         elig,
		snapshotPath: snapshotPath,
	}
}

// Start implements spec.md §4.8's start path.
func (rc *RunController) Start(ctx context.Context) error {
	snap := rc.state.Snapshot()
	if snap.IsRunning || snap.Status == StatusStarting || snap.Status == StatusRunning {
		return ErrEngineAlreadyRunning
	}
	if snap.Config.MaxMargin <= 0 {
		return fmt.Errorf("%w: max_margin is not configured", ErrInvalidRequest)
	}

	rc.state.SetStatus(StatusStarting)

	if err := rc.brokerCl.EnsureSession(ctx); err != nil {
		rc.state.SetStatus(StatusIdle)
		return fmt.Errorf("%w: %v", ErrBrokerSessionUnavail, err)
	}

	positions, err := rc.brokerCl.Positions(ctx)
	if err == nil {
		for _, p := range positions.Net {
			if p.Quantity != 0 {
				return rc.recoverExistingPosition(ctx, p)
			}
		}
	}

	result, err := rc.elig.Run(ctx, true)
	if err != nil {
		rc.state.SetStatus(StatusIdle)
		return err
	}
	if len(result.Eligible) == 0 {
		rc.state.SetStatus(StatusIdle)
		return ErrNoEligibleStocks
	}

	rc.ws.Stop()
	rc.ws.Setup(rc.elig.apiKey, rc.elig.sessionToken, rc.elig.userID)
	rc.ws.Start()
	if !waitForConnected(ctx, rc.ws, 10*time.Second) {
		rc.state.SetStatus(StatusIdle)
		return ErrFeedConnectTimeout
	}

	tokens := make([]int64, 0, len(result.Eligible))
	for _, c := range result.Eligible {
		tokens = append(tokens, c.Row.InstrumentToken)
	}
	rc.ws.Subscribe(tokens)

	runID := uuid.New().String()
	rc.state.StartRun(runID)

	runCtx, cancel := context.WithCancel(ctx)
	rc.cancel = cancel

	em := NewEntryMonitor(rc.state, rc.ticks, rc.brokerCl, rc.notifier, func(pos *PositionTracker) {
		rc.transitionToPositionMonitor(runCtx, runID, pos)
	}, func() {
		rc.ws.Stop()
	})
	go em.Run(runCtx, runID, result.Eligible)

	log.Info().Str("run_id", runID).Msg("run controller: entry monitor launched")
	return nil
}

// recoverExistingPosition skips straight to the Position Monitor when the
// broker already reports an open position at start time.
func (rc *RunController) recoverExistingPosition(ctx context.Context, p broker.Position) error {
	side := broker.TransactionSell
	if p.Quantity > 0 {
		side = broker.TransactionBuy
	}
	pos := &PositionTracker{
		Symbol:       p.TradingSymbol,
		Token:        p.InstrumentToken,
		Side:         side,
		EntryPrice:   p.AveragePrice,
		QtyRemaining: abs(p.Quantity),
	}
	if rows, err := rc.watchlist.LoadForDate(store.Today(), nil); err == nil {
		for _, r := range rows {
			if r.InstrumentToken == p.InstrumentToken {
				pos.StopLoss = r.High
				break
			}
		}
	}
	rc.state.SetPosition(pos)
	rc.state.SetOrderPlaced(true)

	runID := uuid.New().String()
	rc.state.StartRun(runID)
	runCtx, cancel := context.WithCancel(ctx)
	rc.cancel = cancel

	rc.transitionToPositionMonitor(runCtx, runID, pos)
	return nil
}

func (rc *RunController) transitionToPositionMonitor(ctx context.Context, runID string, pos *PositionTracker) {
	rc.ws.Stop()
	rc.ws.Setup(rc.elig.apiKey, rc.elig.sessionToken, rc.elig.userID)
	rc.ws.Start()
	if !waitForConnected(ctx, rc.ws, 10*time.Second) {
		log.Error().Str("run_id", runID).Msg("run controller: feed reconnect failed entering position monitor")
		rc.state.SetStatus(StatusIdle)
		rc.state.StopRun()
		return
	}
	rc.ws.Subscribe([]int64{pos.Token})

	snap := rc.state.Snapshot()
	agg := NewCandleAggregator(snap.Config.CandleIntervalMinutes, time.Now())

	pm := NewPositionMonitor(rc.state, rc.ticks, rc.brokerCl, rc.notifier, agg, snap.Config.SquareoffTime, func() {
		rc.ws.Stop()
		rc.state.SetStatus(StatusIdle)
	}, func() {
		rc.ws.Stop()
	})
	go pm.Run(ctx, runID, snap.Config.TargetPercent)
}

// Stop implements spec.md §4.8's stop path.
func (rc *RunController) Stop() {
	rc.state.SetStatus(StatusStopping)
	if rc.cancel != nil {
		rc.cancel()
	}
	rc.ws.Stop()
	rc.state.StopRun()
	metrics.EngineStatus.Reset()
}

func waitForConnected(ctx context.Context, ws *TickSession, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if ws.Connected() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(500 * time.Millisecond):
		}
	}
}
