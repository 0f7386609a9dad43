package replenishment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const claimReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// streamClient is the subset of the redis client the executor needs.
type streamClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// dedupe marks a consumption as dispatched so a decision fires once.
type dedupe struct {
	client streamClient
	script *redis.Script
}

func newDedupe(client streamClient) *dedupe {
	return &dedupe{
		client: client,
		script: redis.NewScript(claimReleaseScript),
	}
}

// Claim returns a token when key was free. ok is false when another dispatch owns it.
func (d *dedupe) Claim(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, errors.New("dedupe key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("dedupe ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := d.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release frees key only if it still holds token.
func (d *dedupe) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	return d.script.Run(ctx, d.client, []string{key}, token).Err()
}
