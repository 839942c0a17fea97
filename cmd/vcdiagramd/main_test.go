package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dannyswat/vcdiagram/internal/config"
)

func TestNewLogger(t *testing.T) {
	cfg := config.Default()

	_, isText := newLogger(cfg).Handler().(*slog.TextHandler)
	require.True(t, isText)

	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"
	logger := newLogger(cfg)
	_, isJSON := logger.Handler().(*slog.JSONHandler)
	require.True(t, isJSON)
	require.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	require.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
}
