/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

const logDate string = `2006-01-02T15:04:05.000-07:00`

func newLogger(cfg *Config) zerolog.Logger {
	return newLoggerTo(cfg, os.Stderr)
}

func newLoggerTo(cfg *Config, w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.verbose {
		level = zerolog.DebugLevel
	}

	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: logDate,
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// logErrors drains handler write errors into the log until errs is closed.
func logErrors(log zerolog.Logger, errs <-chan error) {
	for err := range errs {
		log.Error().Err(err).Msg("serving request")
	}
}
