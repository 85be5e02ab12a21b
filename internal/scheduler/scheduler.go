package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bursar/internal/clock"
	collectiondomain "github.com/smallbiznis/bursar/internal/collection/domain"
	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/bursar/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const JobReconcileObligations = "reconcile_obligations"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	LedgerRepo    ledgerdomain.Repository
	CollectionSvc collectiondomain.Service
	LedgerMetrics *obsmetrics.LedgerMetrics `optional:"true"`
	Config        Config                    `optional:"true"`
}

// Scheduler runs background ledger maintenance on a fixed interval.
type Scheduler struct {
	db            *gorm.DB
	log           *zap.Logger
	cfg           Config
	genID         *snowflake.Node
	clock         clock.Clock
	ledgerRepo    ledgerdomain.Repository
	collectionSvc collectiondomain.Service
	ledgerMetrics *obsmetrics.LedgerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.LedgerRepo == nil || p.CollectionSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:            p.DB,
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		genID:         p.GenID,
		clock:         p.Clock,
		ledgerRepo:    p.LedgerRepo,
		collectionSvc: p.CollectionSvc,
		ledgerMetrics: p.LedgerMetrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name, batchSize)
	s.logJobStart(ctx, run)

	err := fn(ctx)
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	switch {
	case err == nil:
		s.ledgerMetrics.ObserveJob(name, obsmetrics.OutcomeSuccess, s.clock.Now().Sub(start))
		return nil
	case isTimeout:
		s.ledgerMetrics.ObserveJob(name, "timeout", s.clock.Now().Sub(start))
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.String("run_id", run.runID),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	default:
		s.ledgerMetrics.ObserveJob(name, obsmetrics.OutcomeError, s.clock.Now().Sub(start))
		return fmt.Errorf("%s: %w", name, err)
	}
}

// RunOnce executes every enabled job a single time.
func (s *Scheduler) RunOnce(parent context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	return s.runJob(parent, JobReconcileObligations, s.cfg.BatchSize, s.cfg.JobTimeout, s.ReconcileObligationsJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
