package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withEnv(t *testing.T, kv map[string]string, fn func()) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
	fn()
}

func TestLoadConfigDefaults(t *testing.T) {
	old := loadDotenv
	loadDotenv = func() error { return nil }
	defer func() { loadDotenv = old }()

	for _, k := range []string{"TARGET_PERCENT", "MAX_MARGIN", "CANDLE_INTERVAL_MINUTES", "SQUAREOFF_TIME", "SESSION_MAX_SECONDS", "FRONTEND_ORIGINS"} {
		os.Unsetenv(k)
	}

	cfg := LoadConfig()
	assert.Equal(t, 0.01, cfg.TargetPercent)
	assert.Equal(t, 15, cfg.CandleIntervalMinutes)
	assert.Equal(t, 14400, cfg.SessionMaxSeconds)
	assert.Equal(t, float64(0), cfg.MaxMargin)
	assert.Equal(t, 15, cfg.SquareoffTime.Hour())
	assert.Equal(t, 0, cfg.SquareoffTime.Minute())
}

func TestLoadConfigOverrides(t *testing.T) {
	old := loadDotenv
	loadDotenv = func() error { return nil }
	defer func() { loadDotenv = old }()

	withEnv(t, map[string]string{
		"TARGET_PERCENT":           "0.02",
		"MAX_MARGIN":               "100000",
		"CANDLE_INTERVAL_MINUTES":  "5",
		"SQUAREOFF_TIME":           "15:20",
		"FRONTEND_ORIGINS":         "http://a.test, http://b.test",
		"SECRET_KEY":               "s3cr3t",
	}, func() {
		cfg := LoadConfig()
		assert.Equal(t, 0.02, cfg.TargetPercent)
		assert.Equal(t, 100000.0, cfg.MaxMargin)
		assert.Equal(t, 5, cfg.CandleIntervalMinutes)
		assert.Equal(t, 15, cfg.SquareoffTime.Hour())
		assert.Equal(t, 20, cfg.SquareoffTime.Minute())
		assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.FrontendOrigins)
		assert.Equal(t, "s3cr3t", cfg.SecretKey)
	})
}
