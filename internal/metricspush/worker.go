package metricspush

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const defaultInterval = time.Minute

// Worker pushes a gatherer's metrics on a ticker.
type Worker struct {
	pusher   Pusher
	gatherer prometheus.Gatherer
	interval time.Duration
	memory   prometheus.Gauge
	log      *zap.Logger
}

// NewWorker registers a process memory gauge on registerer and returns a
// worker that pushes gatherer every interval.
func NewWorker(pusher Pusher, registerer prometheus.Registerer, gatherer prometheus.Gatherer, interval time.Duration, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	memory := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bursar_process_memory_sys_bytes",
		Help: "Bytes of memory obtained from the OS at the last metrics push.",
	})
	if err := registerer.Register(memory); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(prometheus.Gauge); ok {
				memory = existing
			}
		}
	}
	return &Worker{
		pusher:   pusher,
		gatherer: gatherer,
		interval: interval,
		memory:   memory,
		log:      log.Named("metricspush"),
	}
}

// PushOnce refreshes process gauges and sends one snapshot.
func (w *Worker) PushOnce(ctx context.Context) error {
	if w == nil || w.pusher == nil {
		return nil
	}
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	w.memory.Set(float64(stats.Sys))
	return w.pusher.Push(ctx, w.gatherer)
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if err := w.PushOnce(ctx); err != nil {
		w.log.Error("initial metrics push failed", zap.Error(err))
	}
	for {
		select {
		case <-ticker.C:
			if err := w.PushOnce(ctx); err != nil {
				w.log.Error("periodic metrics push failed", zap.Error(err))
			}
		case <-ctx.Done():
			w.log.Info("stopping metrics push worker")
			return
		}
	}
}
