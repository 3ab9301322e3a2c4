package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"shortbreak/broker"
	"shortbreak/config"
	"shortbreak/metrics"
	"shortbreak/store"
)

func main() {
	cfg := config.LoadConfig()

	logCloser, err := setupLogging(os.Getenv("LOG_DIR"))
	if err != nil {
		// Logging itself failed to wire up — fall back to stderr so the
		// operator at least sees why the process refused to start.
		panic(err)
	}
	defer logCloser.Close()

	log.Info().Msg("🩳 shortbreak engine starting")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	watchlist, err := store.Open(cfg.StocksDatabaseFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open watchlist store")
	}
	defer watchlist.Close()

	brokerCl := broker.NewRESTBroker(cfg.BrokerBaseURL, cfg.BrokerAPIKey, cfg.BrokerTOTPSecret)

	ticks := NewLiveTickStore()
	ws := NewTickSession(cfg.BrokerBaseURL, ticks)

	state := NewEngineState(TradingConfig{
		TargetPercent:         cfg.TargetPercent,
		MaxMargin:             cfg.MaxMargin,
		CandleIntervalMinutes: cfg.CandleIntervalMinutes,
		SquareoffTime:         cfg.SquareoffTime,
	}, cfg.SessionMaxSeconds)

	// Notifiers are nil-safe Notifier implementations; a typed nil
	// *NotificationService/*PushService wrapped directly into the
	// Notifier interface is NOT == nil, so each is filtered on its
	// concrete pointer before being handed to NewMultiNotifier.
	telegram := NewNotificationService(cfg.TelegramBotToken, os.Getenv("TELEGRAM_CHANNEL_ID"))
	push := NewPushService(cfg.FirebaseCredentialsFile)
	if push != nil {
		go push.StartWorker()
	}

	var sinks []Notifier
	if telegram != nil {
		sinks = append(sinks, telegram)
	}
	if push != nil {
		sinks = append(sinks, push)
	}
	notifier := NewMultiNotifier(sinks...)

	elig := NewEligibilityClassifier(ws, ticks, watchlist, state, notifier, "eligibility_snapshot.json")
	elig.SetCredentials(cfg.BrokerAPIKey, "", "")

	rc := NewRunController(state, ws, ticks, watchlist, brokerCl, notifier, elig, "eligibility_snapshot.json")

	priceHub := NewHub("price")
	statusHub := NewHub("status")
	telemetry := NewTelemetryEmitter(state, ticks, priceHub, statusHub)
	stopTelemetry := make(chan struct{})
	go telemetry.Run(stopTelemetry)

	auth := NewAuthManager(cfg.SecretKey, cfg.UserCredentialsFile)

	if telegram != nil {
		go telegram.StartEventListener(
			func() string { return string(state.Snapshot().Status) },
			func() string {
				if r := state.Snapshot().EligibilityResult; r != nil {
					return formatEligibleMessage(r)
				}
				return "no eligibility scan has run yet"
			},
			func() error { return rc.Start(context.Background()) },
			rc.Stop,
		)
	}

	srv := NewServer(auth, state, watchlist, elig, rc, brokerCl, priceHub, statusHub, os.Getenv("LOG_DIR"), cfg.FrontendOrigins)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Handler(),
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	metrics.EngineStatus.WithLabelValues(string(StatusIdle)).Set(1)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutdown signal received, stopping gracefully")
	rc.Stop()
	close(stopTelemetry)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("shortbreak engine stopped")
}
