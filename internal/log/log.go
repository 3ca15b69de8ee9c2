// Package log configures the structured logger shared by the service.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Component identifies a subsystem for log filtering.
type Component string

const (
	ComponentDevice    Component = "device"
	ComponentDriver    Component = "driver"
	ComponentServicer  Component = "servicer"
	ComponentPartition Component = "partition"
	ComponentCLI       Component = "cli"
)

type Format int

const (
	FormatText Format = iota
	FormatJSON
)

var level = new(slog.LevelVar)

// ParseLevel accepts debug, info, warn and error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, errors.Wrapf(err, "parsing log level `%s`", s)
	}
	return l, nil
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, errors.Errorf("unknown log format `%s`", s)
	}
}

// New builds a logger writing to w. The level is shared by every logger
// created here so SetLevel takes effect everywhere.
func New(w io.Writer, format Format) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func SetLevel(l slog.Level) {
	level.Set(l)
}

// Setup installs the process wide default logger.
func Setup(levelName, formatName string) (*slog.Logger, error) {
	l, err := ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	f, err := ParseFormat(formatName)
	if err != nil {
		return nil, err
	}

	SetLevel(l)
	logger := New(os.Stderr, f)
	slog.SetDefault(logger)
	return logger, nil
}

// For tags a logger with a component, falling back to the default logger.
func For(logger *slog.Logger, c Component) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", string(c))
}

// Discard is a logger that drops everything, handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type contextKeyType string

const contextKey contextKeyType = "LOGGER"

func Context(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey, logger)
}

// FromContext returns the logger stored in ctx or the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}
