package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortbreak/store"
)

func tickFor(ticks *LiveTickStore, token int64, open, last float64) {
	o, l := open, last
	ticks.Merge(token, TickUpdate{OHLC: OHLCUpdate{Open: &o}, LastPrice: &l})
}

func TestClassifyOpenAboveHighIsNotEligible(t *testing.T) {
	ticks := NewLiveTickStore()
	tickFor(ticks, 1, 105, 106)
	rows := []store.WatchlistRow{{Symbol: "A", InstrumentToken: 1, High: 100, Low: 90}}

	result := Classify(rows, ticks)
	require.Len(t, result.NotEligible, 1)
	assert.Equal(t, "open > high", result.NotEligible[0].Reason)
}

func TestClassifyOpenEqualsLowIsNotEligible(t *testing.T) {
	ticks := NewLiveTickStore()
	tickFor(ticks, 1, 90, 91)
	rows := []store.WatchlistRow{{Symbol: "A", InstrumentToken: 1, High: 100, Low: 90}}

	result := Classify(rows, ticks)
	require.Len(t, result.NotEligible, 1)
	assert.Equal(t, "open == low", result.NotEligible[0].Reason)
}

func TestClassifyOpenEqualsHighIsNotEligibleByConvention(t *testing.T) {
	ticks := NewLiveTickStore()
	tickFor(ticks, 1, 100, 100)
	rows := []store.WatchlistRow{{Symbol: "A", InstrumentToken: 1, High: 100, Low: 90}}

	result := Classify(rows, ticks)
	require.Len(t, result.NotEligible, 1)
	assert.Equal(t, "open == high", result.NotEligible[0].Reason)
}

func TestClassifyOpenBetweenLowAndHighIsDoji(t *testing.T) {
	ticks := NewLiveTickStore()
	tickFor(ticks, 1, 95, 96)
	rows := []store.WatchlistRow{{Symbol: "A", InstrumentToken: 1, High: 100, Low: 90}}

	result := Classify(rows, ticks)
	require.Len(t, result.Doji, 1)
}

func TestClassifyOpenBelowLowIsEligibleWithPercent(t *testing.T) {
	ticks := NewLiveTickStore()
	tickFor(ticks, 1, 85, 88)
	rows := []store.WatchlistRow{{Symbol: "A", InstrumentToken: 1, High: 100, Low: 90}}

	result := Classify(rows, ticks)
	require.Len(t, result.Eligible, 1)
	assert.InDelta(t, (100.0-88.0)/88.0*100, result.Eligible[0].Percent, 0.01)
}

func TestClassifyMissingTickIsError(t *testing.T) {
	ticks := NewLiveTickStore()
	rows := []store.WatchlistRow{{Symbol: "A", InstrumentToken: 1, High: 100, Low: 90}}

	result := Classify(rows, ticks)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "No tick", result.Errors[0].Reason)
	assert.Equal(t, 1, result.TotalChecked)
}
