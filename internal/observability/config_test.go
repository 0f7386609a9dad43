package observability

import (
	"testing"

	"github.com/smallbiznis/trustledger/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("OTEL_SAMPLING_RATIO", "7")
	t.Setenv("OTEL_ENABLED", "")

	cfg := LoadConfig(config.Config{AppName: "", Environment: "production"})
	assert.Equal(t, "trustledger", cfg.ServiceName)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.True(t, cfg.OtelEnabled)
	assert.True(t, cfg.Debug())
}
