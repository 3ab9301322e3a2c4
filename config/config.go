package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig holds process-wide configuration sourced from the environment.
// Loaded once at boot via LoadConfig, the way the teacher's Config was.
type AppConfig struct {
	SecretKey       string
	FrontendOrigins []string
	Port            string

	UserCredentialsFile string
	StocksDatabaseFile  string

	TelegramBotToken  string
	TelegramChannelID int64

	FirebaseCredentialsFile string

	BrokerBaseURL    string
	BrokerAPIKey     string
	BrokerTOTPSecret string

	TargetPercent         float64
	MaxMargin             float64
	CandleIntervalMinutes int
	SquareoffTime         time.Time
	SessionMaxSeconds     int
}

// LoadConfig loads variables from .env (if present) and the process
// environment, applying spec-mandated defaults where the spec defines one.
// max_margin has no safe default (see DESIGN.md §9) and is left at zero,
// which the Run Controller rejects at start.
func LoadConfig() *AppConfig {
	if err := loadDotenv(); err != nil {
		log.Println("⚠️  Warning: .env file not found. Relying on system environment variables.")
	}

	cfg := &AppConfig{
		SecretKey:       os.Getenv("SECRET_KEY"),
		FrontendOrigins: splitCSV(os.Getenv("FRONTEND_ORIGINS")),
		Port:            envOr("PORT", "8080"),

		UserCredentialsFile: envOr("USER_CREDENTIALS_FILE", "credentials.json"),
		StocksDatabaseFile:  envOr("STOCKS_DATABASE_FILE", "watchlist.db"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		FirebaseCredentialsFile: os.Getenv("FIREBASE_CREDENTIALS_FILE"),

		BrokerBaseURL:    os.Getenv("BROKER_BASE_URL"),
		BrokerAPIKey:     os.Getenv("BROKER_API_KEY"),
		BrokerTOTPSecret: os.Getenv("BROKER_TOTP_SECRET"),

		TargetPercent:         envFloat("TARGET_PERCENT", 0.01),
		MaxMargin:             envFloat("MAX_MARGIN", 0),
		CandleIntervalMinutes: envInt("CANDLE_INTERVAL_MINUTES", 15),
		SessionMaxSeconds:     envInt("SESSION_MAX_SECONDS", 14400),
	}

	if chatIDStr := os.Getenv("TELEGRAM_CHANNEL_ID"); chatIDStr != "" {
		if id, err := strconv.ParseInt(chatIDStr, 10, 64); err == nil {
			cfg.TelegramChannelID = id
		}
	}

	cfg.SquareoffTime = parseClock(envOr("SQUAREOFF_TIME", "15:00"))

	if cfg.SecretKey == "" {
		log.Println("⚠️  CRITICAL: SECRET_KEY missing — session tokens cannot be signed safely.")
	}
	if cfg.MaxMargin <= 0 {
		log.Println("⚠️  MAX_MARGIN not configured — start-trading will be rejected until it is set.")
	}

	return cfg
}

// loadDotenv is split out so tests can stub it without touching the real
// filesystem; production callers always use the godotenv-backed default.
var loadDotenv = func() error {
	return godotenvLoad()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseClock parses a "HH:MM" local time-of-day into a time.Time with a
// zero date component; callers compare only the Hour/Minute fields.
func parseClock(v string) time.Time {
	t, err := time.Parse("15:04", v)
	if err != nil {
		t, _ = time.Parse("15:04", "15:00")
	}
	return t
}
