package replenishment

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/trustledger/internal/config"
	"github.com/smallbiznis/trustledger/internal/retainer/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("replenishment.executor",
	fx.Provide(NewExecutor),
)

type Params struct {
	fx.In

	Lc     fx.Lifecycle
	Cfg    config.Config
	Ledger *config.LedgerConfigHolder
	Log    *zap.Logger
}

// NewExecutor publishes to Redis when it is configured and only logs otherwise.
func NewExecutor(p Params) domain.ReplenishmentExecutor {
	if !p.Cfg.Redis.Enabled() {
		p.Log.Info("redis not configured, replenishment decisions are logged only")
		return NewLogExecutor(p.Log)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(p.Cfg.Redis.Addr),
		Password: strings.TrimSpace(p.Cfg.Redis.Password),
		DB:       p.Cfg.Redis.DB,
	})
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return NewStreamExecutor(client, p.Ledger.Get().ReplenishStream, p.Log)
}
