package replenishment

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/trustledger/internal/observability/logger"
	"github.com/smallbiznis/trustledger/internal/retainer/domain"
	"go.uber.org/zap"
)

const (
	keyDispatched = "trustledger:replenishment:dispatched:%s"

	// DefaultDedupeTTL bounds how long a consumption stays marked as dispatched.
	DefaultDedupeTTL = 7 * 24 * time.Hour
)

// StreamExecutor appends replenishment requests to a Redis stream for the
// billing workers that charge the stored payment method.
type StreamExecutor struct {
	client    streamClient
	dedupe    *dedupe
	stream    string
	dedupeTTL time.Duration
	log       *zap.Logger
}

func NewStreamExecutor(client streamClient, stream string, log *zap.Logger) *StreamExecutor {
	return &StreamExecutor{
		client:    client,
		dedupe:    newDedupe(client),
		stream:    stream,
		dedupeTTL: DefaultDedupeTTL,
		log:       log.Named("replenishment.stream"),
	}
}

func (e *StreamExecutor) Dispatch(ctx context.Context, req domain.ReplenishmentRequest) error {
	if req.ConsumptionID == 0 {
		return fmt.Errorf("replenishment request for retainer %s has no consumption", req.RetainerID)
	}
	log := logger.WithContext(ctx, e.log).With(
		zap.String("retainer_id", req.RetainerID.String()),
		zap.String("consumption_id", req.ConsumptionID.String()),
	)

	key := fmt.Sprintf(keyDispatched, req.ConsumptionID.String())
	token, ok, err := e.dedupe.Claim(ctx, key, e.dedupeTTL)
	if err != nil {
		return fmt.Errorf("claim replenishment dispatch: %w", err)
	}
	if !ok {
		log.Debug("replenishment already dispatched")
		return nil
	}

	id, err := e.client.XAdd(ctx, streamArgs(e.stream, req)).Result()
	if err != nil {
		if releaseErr := e.dedupe.Release(ctx, key, token); releaseErr != nil {
			log.Warn("failed to release replenishment claim", zap.Error(releaseErr))
		}
		return fmt.Errorf("publish replenishment: %w", err)
	}

	log.Info("replenishment requested",
		zap.String("stream", e.stream),
		zap.String("message_id", id),
		zap.Int64("amount_suggested", req.AmountSuggested),
	)
	return nil
}

func streamArgs(stream string, req domain.ReplenishmentRequest) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"org_id":           req.OrgID.String(),
			"retainer_id":      req.RetainerID.String(),
			"client_id":        req.ClientID.String(),
			"consumption_id":   req.ConsumptionID.String(),
			"current_balance":  strconv.FormatInt(req.CurrentBalance, 10),
			"amount_suggested": strconv.FormatInt(req.AmountSuggested, 10),
			"currency":         req.Currency,
			"decided_at":       req.DecidedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}
