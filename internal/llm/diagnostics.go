package llm

import (
	"context"

	"go.uber.org/zap"
)

type diagnosticsKey struct{}

// WithDiagnostics scopes the logger a Generator may write incidental output
// to for the lifetime of ctx.
func WithDiagnostics(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, diagnosticsKey{}, l)
}

// Diagnostics returns the logger scoped by WithDiagnostics, or a no-op logger.
func Diagnostics(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(diagnosticsKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}
