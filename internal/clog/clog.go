// Package clog wires go-ethereum's structured logger to stderr and, when a
// file path is configured, to a rotating on-disk log via lumberjack.
package clog

import (
	"io"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig configures on-disk log rotation. A zero value disables it.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Init installs the process-wide logger: a human-readable terminal handler
// on stderr, tee'd to a rotating on-disk file when file.Path is set.
func Init(level slog.Level, file FileConfig) {
	var out io.Writer = os.Stderr
	if file.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    orDefault(file.MaxSizeMB, 100),
			MaxBackups: orDefault(file.MaxBackups, 5),
			MaxAge:     orDefault(file.MaxAgeDays, 28),
			Compress:   file.Compress,
		}
		out = io.MultiWriter(os.Stderr, rotator)
	}
	handler := log.NewTerminalHandlerWithLevel(out, level, true)
	log.SetDefault(log.NewLogger(handler))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
