package replenishment

import (
	"testing"

	"github.com/smallbiznis/trustledger/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func TestNewExecutorWithoutRedisLogsOnly(t *testing.T) {
	exec := NewExecutor(Params{
		Lc:     fxtest.NewLifecycle(t),
		Cfg:    config.Config{},
		Ledger: config.NewStaticLedgerConfigHolder(config.DefaultLedgerConfig()),
		Log:    zap.NewNop(),
	})
	assert.IsType(t, &LogExecutor{}, exec)
}

func TestNewExecutorWithRedisPublishes(t *testing.T) {
	exec := NewExecutor(Params{
		Lc:     fxtest.NewLifecycle(t),
		Cfg:    config.Config{Redis: config.RedisConfig{Addr: "127.0.0.1:6379"}},
		Ledger: config.NewStaticLedgerConfigHolder(config.DefaultLedgerConfig()),
		Log:    zap.NewNop(),
	})
	stream, ok := exec.(*StreamExecutor)
	if assert.True(t, ok) {
		assert.Equal(t, "trustledger:replenishment", stream.stream)
	}
}
