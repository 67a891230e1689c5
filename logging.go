package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const serviceVersion = "0.3.0"

// newLogger builds the component logger. LOG_LEVEL selects the level and
// anything other than ENVIRONMENT=production gets the console writer.
func newLogger(component string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.InfoLevel
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	var out io.Writer = os.Stderr
	if os.Getenv("ENVIRONMENT") != "production" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Str("version", serviceVersion).
		Logger()
}
