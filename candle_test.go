package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func istDate(t *testing.T, hh, mm, ss int) time.Time {
	t.Helper()
	return time.Date(2026, 7, 29, hh, mm, ss, 0, time.Local)
}

func TestCandleAlignmentBeforeOpenStartsAtMarketOpen(t *testing.T) {
	now := istDate(t, 8, 0, 0)
	agg := NewCandleAggregator(15, now)
	agg.AddTick(100, 95.0, now)

	start, end := agg.currentPeriod(now)
	assert.Equal(t, 9, start.Hour())
	assert.Equal(t, 15, start.Minute())
	assert.Equal(t, 15*time.Minute, end.Sub(start))
}

func TestCandleAlignmentMidSessionSnapsToInterval(t *testing.T) {
	now := istDate(t, 9, 0, 0)
	agg := NewCandleAggregator(15, now)

	// 09:40 is 25 minutes after open -> period index 1 (09:30-09:45).
	mid := istDate(t, 9, 40, 0)
	start, end := agg.currentPeriod(mid)
	assert.Equal(t, istDate(t, 9, 30, 0), start)
	assert.Equal(t, istDate(t, 9, 45, 0), end)
}

func TestTickAndMaybeEmitClosesWithOHLCAndAdvancesMonotonically(t *testing.T) {
	now := istDate(t, 9, 15, 0)
	agg := NewCandleAggregator(15, now)

	agg.AddTick(100, 100.0, now)
	agg.AddTick(100, 105.0, now.Add(1*time.Minute))
	agg.AddTick(100, 95.0, now.Add(2*time.Minute))
	agg.AddTick(100, 102.0, now.Add(3*time.Minute))

	// Period hasn't closed yet.
	assert.Nil(t, agg.TickAndMaybeEmit(100, now.Add(5*time.Minute)))

	closeTime := now.Add(15 * time.Minute)
	candle := agg.TickAndMaybeEmit(100, closeTime)
	require.NotNil(t, candle)
	assert.Equal(t, 100.0, candle.Open)
	assert.Equal(t, 105.0, candle.High)
	assert.Equal(t, 95.0, candle.Low)
	assert.Equal(t, 102.0, candle.Close)
	assert.Equal(t, 4, candle.TickCount)

	// I5: the new period start is market_open + k*interval.
	b := agg.buffers[100]
	assert.Equal(t, now.Add(15*time.Minute), b.periodStart)
	assert.Equal(t, now.Add(30*time.Minute), b.periodEnd)
}

func TestTickAndMaybeEmitWithNoTicksAdvancesButEmitsNothing(t *testing.T) {
	now := istDate(t, 9, 15, 0)
	agg := NewCandleAggregator(15, now)
	agg.bufferFor(100, now) // initialise with zero ticks

	candle := agg.TickAndMaybeEmit(100, now.Add(15*time.Minute))
	assert.Nil(t, candle)

	b := agg.buffers[100]
	assert.Equal(t, now.Add(15*time.Minute), b.periodStart)
}
