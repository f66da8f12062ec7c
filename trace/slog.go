package trace

import (
	"context"
	"log/slog"

	"github.com/epistlab/epist"
)

// slogLogger adapts log/slog to the engine's Logger interface.
type slogLogger struct {
	l *slog.Logger
}

// NewSlog wraps a slog.Logger as an epist.Logger. A nil argument uses
// slog.Default.
func NewSlog(l *slog.Logger) epist.Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{l: l}
}

func (s *slogLogger) Debug(ctx context.Context, msg string, keysAndValues ...any) {
	s.l.DebugContext(ctx, msg, keysAndValues...)
}

func (s *slogLogger) Info(ctx context.Context, msg string, keysAndValues ...any) {
	s.l.InfoContext(ctx, msg, keysAndValues...)
}

func (s *slogLogger) Error(ctx context.Context, msg string, keysAndValues ...any) {
	s.l.ErrorContext(ctx, msg, keysAndValues...)
}
