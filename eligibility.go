package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"shortbreak/metrics"
	"shortbreak/store"
)

// EligibilityClassifier implements C4, grounded on
// original_source/eligible_stocks.py::run_eligibility.
type EligibilityClassifier struct {
	ws        *TickSession
	ticks     *LiveTickStore
	watchlist *store.WatchlistStore
	state     *EngineState
	notifier  Notifier

	snapshotPath string

	apiKey, sessionToken, userID string

	connectTimeout   time.Duration
	firstTickTimeout time.Duration
	pollInterval     time.Duration

	cached *EligibilityResult
}

func NewEligibilityClassifier(ws *TickSession, ticks *LiveTickStore, watchlist *store.WatchlistStore, state *EngineState, notifier Notifier, snapshotPath string) *EligibilityClassifier {
	return &EligibilityClassifier{
		ws:               ws,
		ticks:            ticks,
		watchlist:        watchlist,
		state:            state,
		notifier:         notifier,
		snapshotPath:     snapshotPath,
		connectTimeout:   10 * time.Second,
		firstTickTimeout: 10 * time.Second,
		pollInterval:     500 * time.Millisecond,
	}
}

// SetCredentials wires the feed credentials used on every Setup call —
// separated from the constructor so Run Controller can refresh them
// after a broker re-login.
func (e *EligibilityClassifier) SetCredentials(apiKey, sessionToken, userID string) {
	e.apiKey, e.sessionToken, e.userID = apiKey, sessionToken, userID
}

// Run implements C4's contract: returns the cached Result unless force is
// set or the watchlist has changed since the last successful run.
func (e *EligibilityClassifier) Run(ctx context.Context, force bool) (*EligibilityResult, error) {
	snap := e.state.Snapshot()
	watchlistChanged := !snap.LastWatchlistUpdate.IsZero() && snap.LastWatchlistUpdate.After(snap.LastEligibilityCheck)
	if !force && e.cached != nil && !watchlistChanged {
		return e.cached, nil
	}

	rows, err := e.watchlist.LoadForDate(store.Today(), func(row store.WatchlistRow, err error) {
		log.Warn().Str("symbol", row.Symbol).Err(err).Msg("eligibility: dropping invalid watchlist row")
	})
	if err != nil {
		return nil, fmt.Errorf("eligibility: load watchlist: %w", err)
	}
	if len(rows) == 0 {
		metrics.EligibilityRuns.WithLabelValues("no_stocks").Inc()
		return nil, ErrNoStocksForToday
	}

	e.ws.Stop()
	e.ws.Setup(e.apiKey, e.sessionToken, e.userID)
	e.ws.Start()

	if !e.waitUntil(ctx, e.connectTimeout, e.ws.Connected) {
		e.ws.Stop()
		metrics.EligibilityRuns.WithLabelValues("feed_timeout").Inc()
		return nil, ErrFeedConnectTimeout
	}

	tokens := make([]int64, 0, len(rows))
	for _, r := range rows {
		tokens = append(tokens, r.InstrumentToken)
	}
	e.ws.Subscribe(tokens)

	if !e.waitUntil(ctx, e.firstTickTimeout, func() bool { return e.ticks.Len() > 0 }) {
		e.ws.Stop()
		metrics.EligibilityRuns.WithLabelValues("first_tick_timeout").Inc()
		return nil, ErrFirstTickTimeout
	}

	result := Classify(rows, e.ticks)
	result.WebsocketStatus = "connected"

	e.state.SetEligibilityResult(result)
	if err := saveSnapshot(e.snapshotPath, result); err != nil {
		log.Warn().Err(err).Msg("eligibility: failed to persist snapshot")
	}

	e.ws.Stop()
	e.state.MarkEligibilityChecked()

	e.cached = result
	metrics.EligibilityRuns.WithLabelValues("ok").Inc()
	metrics.EligibleStocks.Set(float64(len(result.Eligible)))

	if e.notifier != nil {
		e.notifier.Notify(formatEligibleMessage(result))
	}

	return result, nil
}

// waitUntil polls cond every e.pollInterval up to timeout, checking ctx
// cancellation each iteration — the bounded-poll idiom spec.md §5
// requires (checked every 0.5s).
func (e *EligibilityClassifier) waitUntil(ctx context.Context, timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(e.pollInterval):
		}
	}
}

// Classify implements spec.md §4.4(e)'s classification table. Pure
// function of rows and the tick store, so scenarios 1-3 test it directly
// without any network or timing involved.
func Classify(rows []store.WatchlistRow, ticks *LiveTickStore) *EligibilityResult {
	result := &EligibilityResult{Success: true, ComputedAt: time.Now()}

	for _, row := range rows {
		result.TotalChecked++
		tick, ok := ticks.Get(row.InstrumentToken)
		if !ok {
			result.Errors = append(result.Errors, Classification{
				Kind: KindError, Row: row, Reason: "No tick",
			})
			continue
		}

		openP := tick.OHLC.Open
		last := tick.LastPrice

		switch {
		case openP > row.High:
			result.NotEligible = append(result.NotEligible, Classification{
				Kind: KindNotEligible, Row: row, Open: openP, Last: last, Reason: "open > high",
			})
		case openP == row.Low:
			result.NotEligible = append(result.NotEligible, Classification{
				Kind: KindNotEligible, Row: row, Open: openP, Last: last, Reason: "open == low",
			})
		case openP == row.High:
			// open == high falls to NotEligible by convention — see
			// DESIGN.md's resolution of spec.md §9's open question.
			result.NotEligible = append(result.NotEligible, Classification{
				Kind: KindNotEligible, Row: row, Open: openP, Last: last, Reason: "open == high",
			})
		case openP > row.Low && openP < row.High:
			result.Doji = append(result.Doji, Classification{
				Kind: KindDoji, Row: row, Open: openP, Last: last,
			})
		case openP < row.Low:
			percent := round2((row.High - last) / last * 100)
			result.Eligible = append(result.Eligible, Classification{
				Kind: KindEligible, Row: row, Open: openP, Last: last, Percent: percent,
			})
		default:
			result.Errors = append(result.Errors, Classification{
				Kind: KindError, Row: row, Open: openP, Last: last, Reason: "uncategorised",
			})
		}
	}

	return result
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

func saveSnapshot(path string, result *EligibilityResult) error {
	snap := store.EligibilitySnapshot{
		Success:         result.Success,
		TotalChecked:    result.TotalChecked,
		WebsocketStatus: result.WebsocketStatus,
	}
	toRow := func(c Classification) store.SnapshotRow {
		return store.SnapshotRow{
			Symbol:          c.Row.Symbol,
			InstrumentToken: c.Row.InstrumentToken,
			High:            c.Row.High,
			Low:             c.Row.Low,
			Open:            c.Open,
			Last:            c.Last,
			Percent:         c.Percent,
			Reason:          c.Reason,
		}
	}
	for _, c := range result.Eligible {
		snap.Eligible = append(snap.Eligible, toRow(c))
	}
	for _, c := range result.NotEligible {
		snap.NotEligible = append(snap.NotEligible, toRow(c))
	}
	for _, c := range result.Doji {
		snap.DojiEligible = append(snap.DojiEligible, toRow(c))
	}
	for _, c := range result.Errors {
		snap.Errors = append(snap.Errors, toRow(c))
	}
	return store.SaveSnapshot(path, snap)
}

// formatEligibleMessage builds a Markdown summary in the teacher's
// notification style, sorted by percent-to-trigger ascending — grounded
// on original_source/eligible_stocks.py::format_eligible_stocks_message.
func formatEligibleMessage(result *EligibilityResult) string {
	rows := append([]Classification(nil), result.Eligible...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Percent < rows[j].Percent })

	msg := fmt.Sprintf("📋 *Eligibility Scan Complete*\n%d eligible / %d checked\n\n", len(result.Eligible), result.TotalChecked)
	for _, c := range rows {
		icon := "🔴"
		if c.Percent <= 1 {
			icon = "🟢"
		} else if c.Percent <= 3 {
			icon = "🟡"
		}
		msg += fmt.Sprintf("%s %s — %.2f%% to trigger\n", icon, c.Row.Symbol, c.Percent)
	}
	return msg
}
