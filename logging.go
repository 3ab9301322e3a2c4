package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// setupLogging wires zerolog with a console writer plus, when logDir is
// set, a single appended logDir/engine.log file (no rotation), replacing
// the teacher's bare log.Printf calls while keeping its emoji/prose
// message texture — lines carry structured fields (symbol, run_id, ...)
// where the call site adds them.
func setupLogging(logDir string) (io.Closer, error) {
	zerolog.TimeFieldFormat = time.RFC3339

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}

	if logDir == "" {
		log.Logger = zerolog.New(console).With().Timestamp().Logger()
		return io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(logDir+"/engine.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	multi := zerolog.MultiLevelWriter(console, file)
	log.Logger = zerolog.New(multi).With().Timestamp().Logger()
	return file, nil
}
