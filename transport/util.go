package transport

import (
	"context"
	"crypto/rand"
	"log/slog"
)

var cryptoRandReader = rand.Reader

// discardHandler is a slog.Handler that drops everything, used as the
// default Logger when the caller supplies none.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discardHandler) WithGroup(string) slog.Handler           { return h }
