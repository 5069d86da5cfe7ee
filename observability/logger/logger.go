// Package logger builds component-scoped *slog.Logger instances the way the
// teacher's own logger package does, plus a handful of slog.Attr helpers for
// the fields consensus code logs most often (round, epoch, author, block id).
package logger

import (
	"context"
	"log/slog"
	"os"
)

// New returns a JSON slog.Logger scoped to component, e.g. "pacemaker",
// "blockstore", "quorumstore", "pipeline", "gcei", "recovery".
func New(component string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(h).With(slog.String("component", component))
}

// NOP returns a logger that discards everything; used as the zero-value
// default and in tests that don't care about log output.
func NOP() *slog.Logger {
	return slog.New(discardHandler{})
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

func Round(round uint64) slog.Attr  { return slog.Uint64("round", round) }
func Epoch(epoch uint64) slog.Attr  { return slog.Uint64("epoch", epoch) }
func Author(author string) slog.Attr { return slog.String("author", author) }
func BlockID(id []byte) slog.Attr {
	return slog.String("block_id", shortHex(id))
}

func shortHex(b []byte) string {
	const hextable = "0123456789abcdef"
	n := len(b)
	if n > 8 {
		n = 8
	}
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		out[i*2] = hextable[b[i]>>4]
		out[i*2+1] = hextable[b[i]&0x0f]
	}
	return string(out)
}
