package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestValidateLedgerConfig(t *testing.T) {
	require.NoError(t, ValidateLedgerConfig(DefaultLedgerConfig()))

	cfg := DefaultLedgerConfig()
	cfg.Isolation = "snapshot"
	assert.Error(t, ValidateLedgerConfig(cfg))

	cfg = DefaultLedgerConfig()
	cfg.CommitTimeout = 0
	assert.Error(t, ValidateLedgerConfig(cfg))

	cfg = DefaultLedgerConfig()
	cfg.DefaultCurrency = "EURO"
	assert.Error(t, ValidateLedgerConfig(cfg))
}

func TestNewLedgerConfigHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("ledger:\n  maxAmount: 5000\n  commitTimeout: 2s\n  isolation: SERIALIZABLE\n  defaultCurrency: idr\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ledger.yml"), content, 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	holder, err := NewLedgerConfigHolder(zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, int64(5000), cfg.MaxAmount)
	assert.Equal(t, 2*time.Second, cfg.CommitTimeout)
	assert.Equal(t, IsolationSerializable, cfg.Isolation)
	assert.Equal(t, "IDR", cfg.DefaultCurrency)
	assert.Equal(t, DefaultLedgerConfig().ReplenishStream, cfg.ReplenishStream)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("DATABASE_CONN_MAX_LIFETIME", "90s")
	t.Setenv("REDIS_ADDR", "")

	cfg := Load()
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 90*time.Second, cfg.DBConnMaxLifetime)
	assert.False(t, cfg.Redis.Enabled())
}
