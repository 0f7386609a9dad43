package replenishment

import (
	"context"

	"github.com/smallbiznis/trustledger/internal/observability/logger"
	"github.com/smallbiznis/trustledger/internal/retainer/domain"
	"go.uber.org/zap"
)

// LogExecutor records replenishment decisions without acting on them.
type LogExecutor struct {
	log *zap.Logger
}

func NewLogExecutor(log *zap.Logger) *LogExecutor {
	return &LogExecutor{log: log.Named("replenishment.log")}
}

func (e *LogExecutor) Dispatch(ctx context.Context, req domain.ReplenishmentRequest) error {
	logger.WithContext(ctx, e.log).Info("replenishment suggested",
		zap.String("retainer_id", req.RetainerID.String()),
		zap.String("client_id", req.ClientID.String()),
		zap.String("consumption_id", req.ConsumptionID.String()),
		zap.Int64("current_balance", req.CurrentBalance),
		zap.Int64("amount_suggested", req.AmountSuggested),
		zap.String("currency", req.Currency),
	)
	return nil
}
