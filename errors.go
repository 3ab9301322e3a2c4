package main

import "errors"

// Error kinds from spec.md §7. Each maps to a single {success:false,error}
// response; see respondError in httpapi.go for the status-code mapping.
var (
	ErrNoStocksForToday      = errors.New("no stocks for today")
	ErrFeedSetupFailed       = errors.New("feed setup failed")
	ErrFeedConnectTimeout    = errors.New("feed connect timeout")
	ErrFirstTickTimeout      = errors.New("first tick timeout")
	ErrBrokerSessionUnavail  = errors.New("broker session unavailable")
	ErrEngineAlreadyRunning  = errors.New("engine already running")
	ErrNoEligibleStocks      = errors.New("no eligible stocks")
	ErrNoOpenPosition        = errors.New("no open position")
	ErrOrderSubmissionFailed = errors.New("order submission failed")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrNotAuthenticated      = errors.New("not authenticated")
)
