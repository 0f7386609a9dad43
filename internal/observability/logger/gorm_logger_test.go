package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "SELECT", operationFromSQL("select * from retainers"))
	assert.Equal(t, "UPDATE", operationFromSQL("WITH x AS (SELECT 1) UPDATE retainers SET version = 2"))
	assert.Equal(t, "DELETE", operationFromSQL("with a as (select id from retainers), b as ( select 1 ) delete from retainer_operation_keys"))
	assert.Equal(t, "INSERT", operationFromSQL("WITH RECURSIVE t(n) AS (SELECT 1 UNION SELECT n+1 FROM t) INSERT INTO x SELECT n FROM t"))
	assert.Equal(t, "COMMIT", operationFromSQL("commit;"))
	assert.Equal(t, "SET", operationFromSQL("SET LOCAL synchronous_commit = on"))
	assert.Equal(t, "UNKNOWN", operationFromSQL("  "))
}

func TestGormLoggerTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(zap.New(core), GormLoggerConfig{
		Level:                gormlogger.Warn,
		SlowThreshold:        time.Millisecond,
		IgnoreRecordNotFound: true,
	})
	ctx := context.Background()
	stmt := func() (string, int64) { return "SELECT * FROM retainers", 1 }

	l.Trace(ctx, time.Now(), stmt, gormlogger.ErrRecordNotFound)
	assert.Equal(t, 0, logs.Len())

	l.Trace(ctx, time.Now(), stmt, errors.New("boom"))
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())

	l.Trace(ctx, time.Now().Add(-time.Second), stmt, nil)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())

	l.LogMode(gormlogger.Silent).Trace(ctx, time.Now(), stmt, errors.New("boom"))
	assert.Equal(t, 2, logs.Len())
}

func TestGormLoggerParamsFilter(t *testing.T) {
	l := NewGormLogger(zap.NewNop(), DefaultGormLoggerConfig())
	_, params := l.ParamsFilter(context.Background(), "SELECT ?", 42)
	assert.Nil(t, params)

	cfg := DefaultGormLoggerConfig()
	cfg.LogParams = true
	l = NewGormLogger(zap.NewNop(), cfg)
	_, params = l.ParamsFilter(context.Background(), "SELECT ?", 42)
	assert.Equal(t, []interface{}{42}, params)
}
