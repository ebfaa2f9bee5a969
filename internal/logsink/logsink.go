// Package logsink points the standard logger at stderr or a size-rotated
// file.
package logsink

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Writer returns the destination described by cfg. The returned closer is
// a no-op for stderr.
func Writer(cfg Config) (io.Writer, io.Closer, error) {
	if cfg.File == "" {
		return os.Stderr, io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, nil, err
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return lj, lj, nil
}

// Setup configures the standard logger and returns a closer for main to
// defer.
func Setup(cfg Config) (io.Closer, error) {
	w, c, err := Writer(cfg)
	if err != nil {
		return nil, err
	}
	log.SetOutput(w)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return c, nil
}
