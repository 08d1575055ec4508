package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextWithLogger(t *testing.T) {
	logger := NewLogger(DebugLevel)
	ctx := ContextWithLogger(context.Background(), logger)
	require.Same(t, logger, LoggerFromContext(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	t.Run("logger in context", func(t *testing.T) {
		logger := NewLogger(InfoLevel)
		ctx := ContextWithLogger(context.Background(), logger)
		require.Same(t, logger, LoggerFromContext(ctx))
	})

	t.Run("no logger in context", func(t *testing.T) {
		logger := LoggerFromContext(context.Background())
		require.NotNil(t, logger)
		require.Same(t, globalLogger, logger)
	})
}

func TestWithValues(t *testing.T) {
	logger := NewLogger(InfoLevel)
	derived := logger.WithValues("rollout", "test")
	require.NotNil(t, derived)
	require.NotSame(t, logger, derived)
}
