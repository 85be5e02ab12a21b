package logger

import (
	"context"
	"testing"
	"time"

	obscontext "github.com/smallbiznis/bursar/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func observeGlobal(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func lockedSelect() (string, int64) {
	return "SELECT * FROM fee_obligations WHERE id = 7 FOR UPDATE", 1
}

func TestGormLoggerUsesLedgerThresholdInsideWrites(t *testing.T) {
	logs := observeGlobal(t)
	l := NewGormLogger(GormLoggerConfig{
		Level:               gormlogger.Warn,
		SlowThreshold:       time.Second,
		LedgerSlowThreshold: 10 * time.Millisecond,
	})
	begin := time.Now().Add(-100 * time.Millisecond)

	l.Trace(context.Background(), begin, lockedSelect, nil)
	assert.Zero(t, logs.Len())

	ctx := obscontext.WithLedgerScope(context.Background(), obscontext.LedgerScope{StudentID: "11", ObligationID: "7"})
	l.Trace(ctx, begin, lockedSelect, nil)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, "ledger.sql", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "7", fields["obligation_id"])
	assert.Equal(t, "11", fields["student_id"])
	assert.Equal(t, "SELECT", fields["operation"])
	assert.Equal(t, true, fields["row_lock"])
}

func TestGormLoggerSkipsMissingRows(t *testing.T) {
	logs := observeGlobal(t)
	l := NewGormLogger(GormLoggerConfig{Level: gormlogger.Error})

	l.Trace(context.Background(), time.Now(), lockedSelect, gormlogger.ErrRecordNotFound)
	assert.Zero(t, logs.Len())

	l.Trace(context.Background(), time.Now(), lockedSelect, assert.AnError)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[0].Level)

	l.LogMode(gormlogger.Silent).Trace(context.Background(), time.Now(), lockedSelect, assert.AnError)
	assert.Equal(t, 1, logs.Len())
}

func TestGormLoggerDropsBoundValues(t *testing.T) {
	l := NewGormLogger(GormLoggerConfig{})
	sql, params := l.ParamsFilter(context.Background(), "INSERT INTO fee_transactions VALUES (?)", "R-001")
	assert.Equal(t, "INSERT INTO fee_transactions VALUES (?)", sql)
	assert.Nil(t, params)
	assert.Equal(t, gormlogger.Warn, l.cfg.Level)
	assert.Equal(t, 50*time.Millisecond, l.cfg.LedgerSlowThreshold)
}

func TestParseGormLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, ParseGormLevel("silent"))
	assert.Equal(t, gormlogger.Info, ParseGormLevel(" DEBUG "))
	assert.Equal(t, gormlogger.Warn, ParseGormLevel("loud"))
	assert.Equal(t, "UPDATE", operationFromSQL("  update fee_obligations set version = 2"))
}
