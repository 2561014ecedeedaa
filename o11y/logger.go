package o11y

import (
	"context"
	"io"
	"os"

	identityflow "github.com/0xsequence/identity-flow"
	"github.com/rs/zerolog"
)

type LoggerOptions struct {
	Level   zerolog.Level
	Console bool
	Output  io.Writer
}

func NewLogger(service string, opts LoggerOptions) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	return zerolog.New(out).
		Level(opts.Level).
		With().
		Timestamp().
		Str("service", service).
		Str("ver", identityflow.VERSION).
		Logger()
}

// LoggerFromContext returns a logger that writes into the span carried by ctx, or a
// disabled logger when there is none.
func LoggerFromContext(ctx context.Context) zerolog.Logger {
	span := GetSpan(ctx)
	if span == nil {
		return zerolog.Nop()
	}
	return zerolog.New(span).With().Timestamp().Str("span", span.Name).Logger()
}
