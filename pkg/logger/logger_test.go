package logger

import (
	"context"
	"path/filepath"
	"testing"

	"BusinessServer/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextHelpersAttachTraceID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ReplaceGlobal(zap.New(core))
	t.Cleanup(func() { ReplaceGlobal(zap.NewNop()) })

	ctx := context.WithValue(context.Background(), TraceIDKey, "trace-1")
	Info(ctx, "with trace", Uint64("account_id", 7))
	Warn(context.Background(), "without trace")
	var nilCtx context.Context
	Error(nilCtx, "nil ctx")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "trace-1", entries[0].ContextMap()[TraceIDKey])
	assert.Equal(t, uint64(7), entries[0].ContextMap()["account_id"])
	_, ok := entries[1].ContextMap()[TraceIDKey]
	assert.False(t, ok)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestBuildFallsBackToInfo(t *testing.T) {
	cfg := config.DefaultLoggerConfig()
	cfg.Level = "not-a-level"
	cfg.OutputPaths = []string{filepath.Join(t.TempDir(), "out.log")}

	l, err := Build(cfg)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
}

func TestReplaceGlobalNilUsesNop(t *testing.T) {
	ReplaceGlobal(nil)
	require.NotNil(t, L())
	Info(context.Background(), "dropped")
}
