package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// setupLogging writes human-readable logs to stderr and JSON lines to
// logPath. The returned func closes the log file.
func setupLogging(level, logPath string) (func(), error) {
	if logLevel != "" {
		level = logLevel
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}
	if logPath == "" {
		log.Logger = log.Output(console)
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		log.Logger = log.Output(console)
		return func() {}, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		log.Logger = log.Output(console)
		return func() {}, fmt.Errorf("open log file: %w", err)
	}

	var out io.Writer = zerolog.MultiLevelWriter(console, f)
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return func() { _ = f.Close() }, nil
}
