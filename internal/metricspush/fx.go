package metricspush

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/bursar/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
	fx.Provide(func(cfg config.Config, pusher Pusher, logger *zap.Logger) *Worker {
		if pusher == nil {
			return nil
		}
		interval := time.Duration(cfg.MetricsPush.IntervalSeconds) * time.Second
		return NewWorker(pusher, prometheus.DefaultRegisterer, prometheus.DefaultGatherer, interval, logger)
	}),
	fx.Invoke(func(lc fx.Lifecycle, w *Worker, logger *zap.Logger) {
		if w == nil {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				logger.Info("starting metrics push worker")
				go w.Run(ctx)
				return nil
			},
			OnStop: func(stopCtx context.Context) error {
				cancel()
				if err := w.PushOnce(stopCtx); err != nil {
					logger.Warn("final metrics push failed", zap.Error(err))
				}
				return nil
			},
		})
	}),
)
