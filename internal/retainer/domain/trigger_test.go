package domain

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snowflakeID(v int) snowflake.ID { return snowflake.ID(v) }

func autoReplenishRetainer(t *testing.T, balance int64) Retainer {
	t.Helper()
	r, err := NewRetainer(NewRetainerParams{
		ID:                 1,
		DepositID:          2,
		OrgID:              3,
		ClientID:           4,
		Currency:           "USD",
		InitialAmount:      balance,
		MinimumBalance:     0,
		AutoReplenish:      true,
		ReplenishThreshold: int64Ptr(50),
		ReplenishAmount:    int64Ptr(200),
		CreatedAt:          baseTime,
	})
	require.NoError(t, err)
	return r
}

func TestCheckTriggersAtOrBelowThreshold(t *testing.T) {
	decision := Check(autoReplenishRetainer(t, 40))
	assert.True(t, decision.ShouldReplenish)
	assert.Equal(t, int64(200), decision.AmountSuggested)

	decision = Check(autoReplenishRetainer(t, 50))
	assert.True(t, decision.ShouldReplenish)

	decision = Check(autoReplenishRetainer(t, 60))
	assert.False(t, decision.ShouldReplenish)
	assert.Zero(t, decision.AmountSuggested)
}

func TestCheckSkipsInactiveOrManual(t *testing.T) {
	r := autoReplenishRetainer(t, 40)
	r.AutoReplenish = false
	assert.False(t, Check(r).ShouldReplenish)

	refunded, _, err := ApplyRefund(autoReplenishRetainer(t, 40), baseTime, "")
	require.NoError(t, err)
	assert.False(t, Check(refunded).ShouldReplenish)
	assert.False(t, Check(refunded).LowBalance)
}

func TestCheckLowBalance(t *testing.T) {
	r := newTestRetainer(t, 1000, 100)
	r, err := ApplyConsume(r, 950, ConsumeEntry{ID: 1, Date: baseTime})
	require.NoError(t, err)

	decision := Check(r)
	assert.True(t, decision.LowBalance)
	assert.False(t, decision.ShouldReplenish)
}
