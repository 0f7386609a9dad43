package replenishment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/trustledger/internal/retainer/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStream keeps SETNX keys and stream entries in memory.
type fakeStream struct {
	redis.Scripter

	mu       sync.Mutex
	keys     map[string]string
	ttls     map[string]time.Duration
	entries  []map[string]any
	xaddErr  error
	released []string
}

func newFakeStream() *fakeStream {
	return &fakeStream{keys: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStream) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.xaddErr != nil {
		return redis.NewStringResult("", f.xaddErr)
	}
	f.entries = append(f.entries, a.Values.(map[string]any))
	return redis.NewStringResult("1-0", nil)
}

func (f *fakeStream) EvalSha(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[keys[0]] != args[0] {
		return redis.NewCmdResult(int64(0), nil)
	}
	delete(f.keys, keys[0])
	f.released = append(f.released, keys[0])
	return redis.NewCmdResult(int64(1), nil)
}

func testRequest() domain.ReplenishmentRequest {
	return domain.ReplenishmentRequest{
		OrgID:           snowflake.ID(1),
		RetainerID:      snowflake.ID(2),
		ClientID:        snowflake.ID(3),
		ConsumptionID:   snowflake.ID(4),
		CurrentBalance:  40,
		AmountSuggested: 200,
		Currency:        "USD",
		DecidedAt:       time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStreamExecutorPublishesOncePerConsumption(t *testing.T) {
	client := newFakeStream()
	exec := NewStreamExecutor(client, "trustledger:replenishment", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, exec.Dispatch(ctx, testRequest()))
	require.NoError(t, exec.Dispatch(ctx, testRequest()))

	require.Len(t, client.entries, 1)
	entry := client.entries[0]
	assert.Equal(t, "2", entry["retainer_id"])
	assert.Equal(t, "4", entry["consumption_id"])
	assert.Equal(t, "200", entry["amount_suggested"])
	assert.Equal(t, "2026-04-01T12:00:00Z", entry["decided_at"])
	assert.Equal(t, DefaultDedupeTTL, client.ttls["trustledger:replenishment:dispatched:4"])

	next := testRequest()
	next.ConsumptionID = 5
	require.NoError(t, exec.Dispatch(ctx, next))
	assert.Len(t, client.entries, 2)
}

func TestStreamExecutorReleasesClaimOnPublishFailure(t *testing.T) {
	client := newFakeStream()
	client.xaddErr = errors.New("connection refused")
	exec := NewStreamExecutor(client, "trustledger:replenishment", zap.NewNop())
	ctx := context.Background()

	err := exec.Dispatch(ctx, testRequest())
	require.Error(t, err)
	assert.Equal(t, []string{"trustledger:replenishment:dispatched:4"}, client.released)

	client.xaddErr = nil
	require.NoError(t, exec.Dispatch(ctx, testRequest()))
	assert.Len(t, client.entries, 1)
}

func TestStreamExecutorRequiresConsumption(t *testing.T) {
	exec := NewStreamExecutor(newFakeStream(), "s", zap.NewNop())
	req := testRequest()
	req.ConsumptionID = 0
	assert.Error(t, exec.Dispatch(context.Background(), req))
}

func TestLogExecutor(t *testing.T) {
	exec := NewLogExecutor(zap.NewNop())
	assert.NoError(t, exec.Dispatch(context.Background(), testRequest()))
}
