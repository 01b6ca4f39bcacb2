// Package logger builds the root hclog.Logger from configuration.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/frameflow/internal/config"
)

// New returns the application logger. The returned closer releases the log
// file when output points at one; it is a no-op otherwise.
func New(cfg config.LoggingConfig) (hclog.Logger, io.Closer, error) {
	out, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, err
	}

	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "frameflow",
		Level:      level,
		Output:     out,
		JSONFormat: strings.EqualFold(cfg.Format, "json"),
		Color:      colorOption(cfg),
	})
	return logger, closer, nil
}

func colorOption(cfg config.LoggingConfig) hclog.ColorOption {
	if strings.EqualFold(cfg.Format, "json") {
		return hclog.ColorOff
	}
	return hclog.AutoColor
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openOutput(output string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(output) {
	case "", "stderr":
		return os.Stderr, nopCloser{}, nil
	case "stdout":
		return os.Stdout, nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, f, nil
}
