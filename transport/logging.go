package transport

import (
	"fmt"
	"log/slog"

	"github.com/bridgefall/nomad/wire"
)

// resolveLogger mirrors the teacher's envelope.resolveLogger: a nil
// logger falls back to slog.Default() at the call site rather than
// being cached once at construction, so SetLogger can be called at
// any point in a connection's lifetime.
func resolveLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

func sessionHex(s wire.SessionID) string {
	return fmt.Sprintf("%x", s[:])
}
