package lock

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/bursar/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Cfg       config.Config
	Log       *zap.Logger
}

// New returns a redis-backed locker when REDIS_ADDR is set, otherwise an in-process one.
func New(p Params) Locker {
	if !p.Cfg.Redis.Enabled() {
		p.Log.Info("ledger locks are process-local")
		return NewKeyedMutex()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     p.Cfg.Redis.Addr,
		Password: p.Cfg.Redis.Password,
		DB:       p.Cfg.Redis.DB,
	})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	p.Log.Info("ledger locks are redis-backed", zap.String("addr", p.Cfg.Redis.Addr))
	return NewRedisLocker(client, time.Duration(p.Cfg.Ledger.LockTTLSeconds)*time.Second)
}
