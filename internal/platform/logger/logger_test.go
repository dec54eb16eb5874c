package logger

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	t.Run("valid levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error", "DEBUG", "Info"} {
			l, err := Setup(Config{Level: level})
			require.NoError(t, err)
			assert.NotNil(t, l)
		}
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		l, err := Setup(Config{Level: "verbose"})
		require.NoError(t, err)
		require.NotNil(t, l)

		assert.True(t, l.Enabled(context.Background(), slog.LevelInfo))
		assert.False(t, l.Enabled(context.Background(), slog.LevelDebug))
	})
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	t.Run("returns stored logger", func(t *testing.T) {
		t.Parallel()

		stored := slog.New(slog.NewTextHandler(io.Discard, nil))
		ctx := WithLogger(context.Background(), stored)

		assert.Same(t, stored, FromContext(ctx))
	})

	t.Run("falls back to default logger", func(t *testing.T) {
		t.Parallel()

		got := FromContext(context.Background())
		require.NotNil(t, got)
		assert.Same(t, slog.Default(), got)
	})
}
