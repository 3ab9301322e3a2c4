package main

import (
	"sync"
	"time"

	"shortbreak/store"
)

// EngineStatus is the state machine of spec.md §3.
type EngineStatus string

const (
	StatusIdle     EngineStatus = "Idle"
	StatusStarting EngineStatus = "Starting"
	StatusRunning  EngineStatus = "Running"
	StatusStopping EngineStatus = "Stopping"
	StatusStopped  EngineStatus = "Stopped"
	StatusTimeout  EngineStatus = "Timeout"
)

// CurrentStep is the free-form breadcrumb surfaced to the UI.
type CurrentStep string

const (
	StepPreCheck                 CurrentStep = "PreCheck"
	StepOrderMonitoringStarted   CurrentStep = "OrderMonitoringStarted"
	StepPositionMonitoringStarted CurrentStep = "PositionMonitoringStarted"
	StepOrderPlaced              CurrentStep = "OrderPlaced"
	StepStopLossTriggered        CurrentStep = "StopLossTriggered"
	StepTargetHit                CurrentStep = "TargetHit"
	StepAutoSquareOff            CurrentStep = "AutoSquareOff"
	StepManualStop               CurrentStep = "ManualStop"
	StepPositionClosed           CurrentStep = "PositionClosed"
)

// TradingConfig is the mutable-via-API configuration of spec.md §3.
// max_margin has no safe default (see DESIGN.md) — zero means "not yet
// configured" and the Run Controller refuses to start.
type TradingConfig struct {
	TargetPercent         float64   `json:"target_percent"`
	MaxMargin             float64   `json:"max_margin"`
	CandleIntervalMinutes int       `json:"candle_interval_minutes"`
	SquareoffTime         time.Time `json:"-"`
}

// Classification is the tagged result of the eligibility pass for one
// watchlist row, per spec.md §3, discriminated by Kind. Percent is set
// only for eligible rows and Reason only for not-eligible and error rows.
type ClassificationKind string

const (
	KindEligible    ClassificationKind = "eligible"
	KindNotEligible ClassificationKind = "not_eligible"
	KindDoji        ClassificationKind = "doji"
	KindError       ClassificationKind = "error"
)

type Classification struct {
	Kind    ClassificationKind
	Row     store.WatchlistRow
	Open    float64
	Last    float64
	Percent float64
	Reason  string
}

// EligibilityResult is the full partition produced by one classifier run.
type EligibilityResult struct {
	Success         bool
	Eligible        []Classification
	NotEligible     []Classification
	Doji            []Classification
	Errors          []Classification
	TotalChecked    int
	WebsocketStatus string
	ComputedAt      time.Time
}

// PositionTracker tracks the single open position a Position Monitor run
// manages, per spec.md §3.
type PositionTracker struct {
	Symbol       string
	Token        int64
	Side         string // BUY or SELL
	EntryPrice   float64
	QtyRemaining int
	Target       float64
	StopLoss     float64
	Closed       bool
}

// EngineState is the single process-wide typed record of spec.md §4.1.
// Concurrency discipline is cooperative: at most one background task owns
// mutation at a time (Entry Monitor, then Position Monitor). A single
// RWMutex guards every field; Telemetry reads go through Snapshot.
type EngineState struct {
	mu sync.RWMutex

	Config TradingConfig

	Status      EngineStatus
	CurrentStep CurrentStep

	RunID     string
	IsRunning bool

	LoggedIn bool
	UserName string

	SessionStartTime  time.Time
	SessionMaxSeconds int

	EligibilityResult    *EligibilityResult
	LastWatchlistUpdate  time.Time
	LastEligibilityCheck time.Time

	Position    *PositionTracker
	OrderPlaced bool
}

func NewEngineState(cfg TradingConfig, sessionMaxSeconds int) *EngineState {
	return &EngineState{
		Config:            cfg,
		Status:            StatusIdle,
		CurrentStep:       StepPreCheck,
		SessionMaxSeconds: sessionMaxSeconds,
	}
}

// Reset clears the state to defaults, per spec.md §4.1's reset_state.
// Calling it twice is equivalent to calling it once (R2).
func (s *EngineState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = StatusIdle
	s.CurrentStep = StepPreCheck
	s.RunID = ""
	s.IsRunning = false
	s.SessionStartTime = time.Time{}
	s.EligibilityResult = nil
	s.Position = nil
	s.OrderPlaced = false
}

func (s *EngineState) SetStatus(status EngineStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
}

func (s *EngineState) SetStep(step CurrentStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentStep = step
}

// StartRun stamps the given run identity and flips the engine to running.
// The caller's background task must carry the same run_id — the only
// valid zombie-prevention credential per spec.md §4.8/I3.
func (s *EngineState) StartRun(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RunID = runID
	s.IsRunning = true
	s.SessionStartTime = time.Now()
	s.Status = StatusRunning
	s.OrderPlaced = false
}

// StopRun clears run identity; safe to call from any task, but mutation
// of run-scoped fields by a background task must still gate on MatchesRun
// below.
func (s *EngineState) StopRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IsRunning = false
	s.RunID = ""
	s.SessionStartTime = time.Time{}
	s.Status = StatusIdle
}

// MatchesRun implements I3: a background task may only mutate run-scoped
// state while its captured run_id still matches and the engine is still
// marked running.
func (s *EngineState) MatchesRun(runID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.IsRunning && s.RunID == runID
}

func (s *EngineState) SetEligibilityResult(r *EligibilityResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EligibilityResult = r
}

func (s *EngineState) SetPosition(p *PositionTracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Position = p
}

func (s *EngineState) MarkPositionClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Position != nil {
		s.Position.Closed = true
	}
}

func (s *EngineState) SetOrderPlaced(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OrderPlaced = v
}

func (s *EngineState) MarkWatchlistUpdated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastWatchlistUpdate = time.Now()
}

func (s *EngineState) MarkEligibilityChecked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastEligibilityCheck = time.Now()
}

func (s *EngineState) SetLogin(userName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LoggedIn = true
	s.UserName = userName
}

func (s *EngineState) ClearLogin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LoggedIn = false
	s.UserName = ""
}

func (s *EngineState) UpdateConfig(fn func(c *TradingConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.Config)
}

// StateSnapshot is an immutable read view for Telemetry/diagnostics,
// tolerating torn reads per spec.md §4.1.
type StateSnapshot struct {
	Status               EngineStatus
	CurrentStep          CurrentStep
	RunID                string
	IsRunning             bool
	LoggedIn              bool
	UserName              string
	OrderPlaced           bool
	Position              *PositionTracker
	Config                TradingConfig
	SessionStartTime      time.Time
	SessionMaxSeconds     int
	EligibilityResult     *EligibilityResult
	LastWatchlistUpdate   time.Time
	LastEligibilityCheck  time.Time
}

func (s *EngineState) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pos *PositionTracker
	if s.Position != nil {
		cp := *s.Position
		pos = &cp
	}
	return StateSnapshot{
		Status:               s.Status,
		CurrentStep:          s.CurrentStep,
		RunID:                s.RunID,
		IsRunning:            s.IsRunning,
		LoggedIn:             s.LoggedIn,
		UserName:             s.UserName,
		OrderPlaced:          s.OrderPlaced,
		Position:             pos,
		Config:               s.Config,
		SessionStartTime:     s.SessionStartTime,
		SessionMaxSeconds:    s.SessionMaxSeconds,
		EligibilityResult:    s.EligibilityResult,
		LastWatchlistUpdate:  s.LastWatchlistUpdate,
		LastEligibilityCheck: s.LastEligibilityCheck,
	}
}

// RemainingSeconds computes the session countdown for the status feed.
func (snap StateSnapshot) RemainingSeconds() int {
	if !snap.IsRunning || snap.SessionStartTime.IsZero() {
		return 0
	}
	elapsed := time.Since(snap.SessionStartTime).Seconds()
	remaining := float64(snap.SessionMaxSeconds) - elapsed
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}
