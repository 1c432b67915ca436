package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"BusinessServer/config"
	"BusinessServer/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestDialector(t *testing.T) {
	tests := []struct {
		driver  string
		name    string
		wantErr bool
	}{
		{driver: "mysql", name: "mysql"},
		{driver: "postgres", name: "postgres"},
		{driver: "pg", name: "postgres"},
		{driver: "oracle", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := Dialector(tt.driver, "dsn")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedDriver)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, d.Name())
		})
	}
}

func TestBuildUnsupportedDriver(t *testing.T) {
	cfg := config.DefaultDatabaseConfig()
	cfg.Driver = "oracle"
	_, err := Build(cfg)
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestCloseNil(t *testing.T) {
	assert.NoError(t, Close(nil))
}

func TestGormLoggerTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(zap.New(core), 100*time.Millisecond)
	ctx := context.WithValue(context.Background(), logger.TraceIDKey, "t-1")
	fc := func() (string, int64) { return "SELECT 1", 1 }

	// 业务分支错误不记录
	l.Trace(ctx, time.Now(), fc, gorm.ErrRecordNotFound)
	l.Trace(ctx, time.Now(), fc, gorm.ErrDuplicatedKey)
	assert.Zero(t, logs.Len())

	l.Trace(ctx, time.Now(), fc, errors.New("connection reset"))
	l.Trace(ctx, time.Now().Add(-time.Second), fc, nil)
	l.Trace(ctx, time.Now(), fc, nil)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "t-1", entries[0].ContextMap()[logger.TraceIDKey])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)

	// Info 级别输出全部 SQL
	logs.TakeAll()
	l.LogMode(gormlogger.Info).Trace(ctx, time.Now(), fc, nil)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.DebugLevel).Len())
}
